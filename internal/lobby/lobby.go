package lobby

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/DoyleJ11/race-board-backend/internal/engine"
	"github.com/DoyleJ11/race-board-backend/internal/types"
	"go.uber.org/zap"
)

type Msg interface{ isLobbyMsg() }

type FromClient struct {
	ClientID string
	Cmd      engine.Command
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Notification // where this client wants to receive notifications
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type TimerFired struct {
	Kind       engine.TimerKind
	Generation int
	Moves      int
}

func (TimerFired) isLobbyMsg() {}

type idleFired struct{ seq int }

func (idleFired) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// Notification is one outbound message for a client. Err is set for
// validation failures, which only go back to the sender.
type Notification struct {
	Version int
	Event   engine.Event
	Err     *engine.ValidationError
}

func (n Notification) Message() types.ServerMessage {
	if n.Err != nil {
		return types.FromError(n.Version, n.Err)
	}
	return types.FromEvent(n.Version, n.Event)
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
}

// Recorder archives finished rounds.
type Recorder interface {
	RecordMatch(ctx context.Context, code string, rankings []engine.Rank) error
}

// Publisher mirrors broadcast notifications outside the process.
type Publisher interface {
	Publish(ctx context.Context, code string, msg types.ServerMessage) error
}

type Options struct {
	Code         string
	StartDelay   time.Duration
	AdvanceDelay time.Duration
	// Dice is owned by the lobby goroutine; never share one between lobbies.
	Dice      engine.Dice
	Logger    *zap.Logger
	Recorder  Recorder
	Publisher Publisher
	Now       func() time.Time
	// OnIdle is called once the room has had no connections for IdleTTL.
	// The lobby shuts itself down right after. Nil disables reaping.
	OnIdle  func(*Lobby)
	IdleTTL time.Duration
}

const (
	DefaultStartDelay   = 3 * time.Second
	DefaultAdvanceDelay = 750 * time.Millisecond
	DefaultIdleTTL      = 10 * time.Minute
	sinkTimeout         = 5 * time.Second
	publishQueueSize    = 256
)

type Lobby struct {
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]chan Notification
	timers  map[engine.TimerKind]*time.Timer
	idle    *time.Timer
	idleSeq int
	pubq    chan types.ServerMessage
	opts    Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewLobby(parent context.Context, initial engine.State, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	if opts.Dice == nil {
		opts.Dice = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}

	l := &Lobby{
		inbox:   make(chan Msg, 64), // Small buffer
		state:   initial,
		version: 0,
		clients: make(map[string]chan Notification),
		timers:  make(map[engine.TimerKind]*time.Timer),
		opts:    opts,
		log:     opts.Logger.With(zap.String("room", opts.Code)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	if opts.Publisher != nil {
		l.pubq = make(chan types.ServerMessage, publishQueueSize)
		go l.publishLoop()
	}

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	l.updateIdle()
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current state immediately
				l.clients[msg.ClientID] = msg.Outbox
				l.apply(msg.ClientID, engine.Command{Type: engine.CmdSnapshot, ClientID: msg.ClientID})

			case Leave:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
				}
				l.apply(msg.ClientID, engine.Command{Type: engine.CmdDisconnect, ClientID: msg.ClientID})

			case FromClient:
				cmd := msg.Cmd
				cmd.ClientID = msg.ClientID
				if cmd.Type == engine.CmdJoin {
					cmd.At = l.opts.Now()
				}
				l.apply(msg.ClientID, cmd)

			case TimerFired:
				delete(l.timers, msg.Kind)
				if msg.Generation != l.state.Generation {
					l.log.Debug("dropping stale timer", zap.String("timer", string(msg.Kind)), zap.Int("generation", msg.Generation))
					break
				}
				l.apply("", timerCommand(msg))

			case idleFired:
				if msg.seq != l.idleSeq || len(l.clients) > 0 {
					break
				}
				l.log.Info("room idle, closing")
				if l.opts.OnIdle != nil {
					l.opts.OnIdle(l)
				}
				l.shutdown()
				return

			case GetState:
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					State:      l.state,
				}

			case Shutdown:
				l.shutdown()
				return
			}
			l.updateIdle()
		}
	}
}

func timerCommand(msg TimerFired) engine.Command {
	cmd := engine.Command{Type: engine.CmdAdvanceTurn, Generation: msg.Generation, Moves: msg.Moves}
	if msg.Kind == engine.TimerGameStart {
		cmd.Type = engine.CmdBeginGame
	}
	return cmd
}

func (l *Lobby) apply(from string, cmd engine.Command) {
	events, next, err := engine.Apply(l.state, cmd, l.opts.Dice)
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			l.log.Info("rejected command", zap.String("client", from), zap.String("cmd", string(cmd.Type)), zap.Error(err))
			l.send(from, Notification{Version: l.version, Err: verr})
			return
		}
		// Stale or duplicate requests are expected; nothing goes back to the client.
		l.log.Debug("dropped command", zap.String("client", from), zap.String("cmd", string(cmd.Type)), zap.Error(err))
		return
	}

	if next.Generation != l.state.Generation {
		l.stopTimers()
	}
	l.state = next
	if cmd.Type != engine.CmdSnapshot && len(events) > 0 {
		l.version++
	}

	for _, e := range events {
		switch {
		case e.Type == engine.EvtTimerStarted:
			l.arm(e.Timer, e.Generation, e.Moves)
		case e.To != "":
			l.send(e.To, Notification{Version: l.version, Event: e})
		default:
			n := Notification{Version: l.version, Event: e}
			l.broadcast(n)
			l.publish(n)
			if e.Type == engine.EvtGameOver {
				l.record(e.Rankings)
			}
		}
	}
}

func (l *Lobby) arm(kind engine.TimerKind, generation, moves int) {
	delay := l.opts.AdvanceDelay
	if kind == engine.TimerGameStart {
		delay = l.opts.StartDelay
	}
	if t := l.timers[kind]; t != nil {
		t.Stop()
	}
	l.timers[kind] = time.AfterFunc(delay, func() {
		select {
		case l.inbox <- TimerFired{Kind: kind, Generation: generation, Moves: moves}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) stopTimers() {
	for kind, t := range l.timers {
		t.Stop()
		delete(l.timers, kind)
	}
}

// updateIdle arms the idle timer while nobody is connected and disarms it
// as soon as someone is.
func (l *Lobby) updateIdle() {
	if l.opts.OnIdle == nil {
		return
	}
	switch {
	case len(l.clients) == 0 && l.idle == nil:
		l.idleSeq++
		seq := l.idleSeq
		l.idle = time.AfterFunc(l.opts.IdleTTL, func() {
			select {
			case l.inbox <- idleFired{seq: seq}:
			case <-l.ctx.Done():
			}
		})
	case len(l.clients) > 0 && l.idle != nil:
		l.idle.Stop()
		l.idle = nil
		l.idleSeq++
	}
}

func (l *Lobby) shutdown() {
	l.cancel()
	l.stopTimers()
	if l.idle != nil {
		l.idle.Stop()
		l.idle = nil
	}
	for id, ch := range l.clients {
		close(ch) // Tell client no more notifications
		delete(l.clients, id)
	}
}

func (l *Lobby) send(to string, n Notification) {
	ch, ok := l.clients[to]
	if !ok {
		return
	}
	select {
	case ch <- n:
	default:
		l.drop(to, ch)
	}
}

func (l *Lobby) broadcast(n Notification) {
	for id, ch := range l.clients {
		select {
		case ch <- n:
			//ok
		default:
			// Client is slow/full - drop them.
			l.drop(id, ch)
		}
	}
}

func (l *Lobby) drop(id string, ch chan Notification) {
	l.log.Warn("dropping slow client", zap.String("client", id))
	close(ch)
	delete(l.clients, id)
}

// publish queues n for the mirror. Messages go out in broadcast order.
func (l *Lobby) publish(n Notification) {
	if l.pubq == nil {
		return
	}
	msg := n.Message()
	select {
	case l.pubq <- msg:
	default:
		l.log.Warn("publish queue full, dropping", zap.String("type", msg.Type), zap.Int("version", msg.Version))
	}
}

func (l *Lobby) publishLoop() {
	for {
		select {
		case <-l.ctx.Done():
			return
		case msg := <-l.pubq:
			ctx, cancel := context.WithTimeout(l.ctx, sinkTimeout)
			err := l.opts.Publisher.Publish(ctx, l.opts.Code, msg)
			cancel()
			if err != nil {
				l.log.Warn("publish failed", zap.String("type", msg.Type), zap.Error(err))
			}
		}
	}
}

func (l *Lobby) record(rankings []engine.Rank) {
	if l.opts.Recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(l.ctx, sinkTimeout)
		defer cancel()
		if err := l.opts.Recorder.RecordMatch(ctx, l.opts.Code, rankings); err != nil {
			l.log.Error("archiving match failed", zap.Error(err))
		}
	}()
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Send delivers m unless the lobby has shut down.
func (l *Lobby) Send(m Msg) bool {
	if l.ctx.Err() != nil {
		return false
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.ctx.Done():
		return false
	}
}

func (l *Lobby) Code() string { return l.opts.Code }

// Done is closed once the lobby goroutine has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }
