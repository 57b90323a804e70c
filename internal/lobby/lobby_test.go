package lobby

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/race-board-backend/internal/engine"
	"github.com/DoyleJ11/race-board-backend/internal/types"
	"go.uber.org/zap/zaptest"
)

// helper: receive one notification with a timeout so tests never hang
func recvNotification(t *testing.T, ch <-chan Notification, within time.Duration) Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return n
	case <-time.After(within):
		t.Fatalf("timed out waiting for notification")
		return Notification{} // unreachable
	}
}

// recvUntil drains ch until a notification of the wanted type shows up.
func recvUntil(t *testing.T, ch <-chan Notification, want engine.EventType, within time.Duration) Notification {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("client outbox closed while waiting for %s", want)
			}
			if n.Err == nil && n.Event.Type == want {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
			return Notification{}
		}
	}
}

func recvNoEvent(t *testing.T, ch <-chan Notification, unwanted engine.EventType, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				// channel closed → that's fine; no further notifications possible
				return
			}
			if n.Event.Type == unwanted {
				t.Fatalf("expected no %s within %v, but got: %+v", unwanted, within, n)
			}
		case <-deadline:
			return
		}
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

// fixedDice always rolls low and keeps repeats.
type fixedDice struct{}

func (fixedDice) Intn(n int) int                     { return 0 }
func (fixedDice) Float64() float64                   { return 0.99 }
func (fixedDice) Shuffle(n int, swap func(i, j int)) {}

func newTestLobby(t *testing.T, opts Options) *Lobby {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	if opts.Dice == nil {
		opts.Dice = fixedDice{}
	}
	opts.Code = "TEST01"
	l := NewLobby(ctx, engine.NewEmptyState(), opts)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func connect(t *testing.T, l *Lobby, id string) chan Notification {
	t.Helper()
	out := make(chan Notification, 128)
	l.Inbox() <- Join{ClientID: id, Outbox: out}
	first := recvNotification(t, out, 200*time.Millisecond)
	if first.Event.Type != engine.EvtFullState || first.Event.To != id {
		t.Fatalf("expected full state on connect, got %+v", first)
	}
	return out
}

func joinAs(t *testing.T, l *Lobby, out chan Notification, id, name string) {
	t.Helper()
	l.Inbox() <- FromClient{ClientID: id, Cmd: engine.Command{Type: engine.CmdJoin, Name: name}}
	recvUntil(t, out, engine.EvtRosterUpdated, 200*time.Millisecond)
}

func TestLobby_Join_BroadcastsRosterAndVersionIncrements(t *testing.T) {
	l := newTestLobby(t, Options{})

	alice := connect(t, l, "alice")
	admin := connect(t, l, "admin")

	l.Inbox() <- FromClient{ClientID: "alice", Cmd: engine.Command{Type: engine.CmdJoin, Name: "Alice"}}

	joined := recvNotification(t, alice, 200*time.Millisecond)
	if joined.Event.Type != engine.EvtJoined || joined.Event.Player.Name != "Alice" {
		t.Fatalf("expected joined reply, got %+v", joined)
	}

	roster := recvNotification(t, admin, 200*time.Millisecond)
	if roster.Version != 1 {
		t.Fatalf("after join: want version=1, got %d", roster.Version)
	}
	if len(roster.Event.Players) != 1 || roster.Event.Players[0].ID != "alice" {
		t.Fatalf("expected roster [alice], got %+v", roster.Event.Players)
	}
	if roster.Event.Players[0].JoinedAt.IsZero() {
		t.Fatalf("join time was not stamped")
	}
	recvNoEvent(t, admin, engine.EvtJoined, 50*time.Millisecond)

	l.Inbox() <- Shutdown{}
}

func TestLobby_ValidationErrorGoesToSenderOnly(t *testing.T) {
	l := newTestLobby(t, Options{})

	a := connect(t, l, "a")
	b := connect(t, l, "b")
	joinAs(t, l, a, "a", "Alice")
	recvUntil(t, b, engine.EvtRosterUpdated, 200*time.Millisecond)

	l.Inbox() <- FromClient{ClientID: "b", Cmd: engine.Command{Type: engine.CmdJoin, Name: "Alice"}}

	n := recvNotification(t, b, 200*time.Millisecond)
	if n.Err == nil || n.Err.Code != engine.CodeNameTaken {
		t.Fatalf("expected NAME_TAKEN for b, got %+v", n)
	}
	if msg := n.Message(); msg.Type != types.TypeError || msg.Code != "NAME_TAKEN" {
		t.Fatalf("unexpected wire message %+v", msg)
	}
	select {
	case extra := <-a:
		t.Fatalf("a must not see b's error, got %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLobby_DropSlowClient(t *testing.T) {
	l := newTestLobby(t, Options{})

	clientOut := make(chan Notification, 1)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut} // snapshot fills the buffer

	l.Inbox() <- FromClient{ClientID: "ch2", Cmd: engine.Command{Type: engine.CmdJoin, Name: "Bob"}}

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
	if len(view.State.Players) != 1 {
		t.Fatalf("join should still apply; players=%+v", view.State.Players)
	}
}

func TestLobby_StartTimerBeginsGame(t *testing.T) {
	l := newTestLobby(t, Options{StartDelay: 20 * time.Millisecond})

	out := connect(t, l, "p1")
	joinAs(t, l, out, "p1", "Pia")

	l.Inbox() <- FromClient{ClientID: "admin", Cmd: engine.Command{Type: engine.CmdStart}}
	recvUntil(t, out, engine.EvtInitiativeOrder, 200*time.Millisecond)
	recvUntil(t, out, engine.EvtGameStarted, 500*time.Millisecond)
	turn := recvUntil(t, out, engine.EvtTurnChanged, 200*time.Millisecond)
	if turn.Event.PlayerID != "p1" {
		t.Fatalf("expected p1 to start, got %+v", turn.Event)
	}

	l.Inbox() <- FromClient{ClientID: "p1", Cmd: engine.Command{Type: engine.CmdRoll}}
	move := recvUntil(t, out, engine.EvtMoveResolved, 200*time.Millisecond)
	if move.Event.Move.Roll != 1 || move.Event.Move.Final != 1 {
		t.Fatalf("unexpected move %+v", move.Event.Move)
	}
}

func TestLobby_TimerGen_DropsStaleFires(t *testing.T) {
	l := newTestLobby(t, Options{StartDelay: 150 * time.Millisecond})

	out := connect(t, l, "p1")
	joinAs(t, l, out, "p1", "Pia")

	// Arm the game-start timer, then reset before it fires.
	l.Inbox() <- FromClient{ClientID: "admin", Cmd: engine.Command{Type: engine.CmdStart}}
	recvUntil(t, out, engine.EvtInitiativeOrder, 200*time.Millisecond)
	l.Inbox() <- FromClient{ClientID: "admin", Cmd: engine.Command{Type: engine.CmdReset}}
	recvUntil(t, out, engine.EvtForceReload, 200*time.Millisecond)

	recvNoEvent(t, out, engine.EvtGameStarted, 400*time.Millisecond)

	// A fire carrying the old generation is ignored by the loop as well.
	l.Inbox() <- TimerFired{Kind: engine.TimerGameStart, Generation: 1}
	recvNoEvent(t, out, engine.EvtGameStarted, 100*time.Millisecond)

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)
	if view.State.Status != engine.StatusLobby || len(view.State.Players) != 0 {
		t.Fatalf("expected empty lobby after reset, got %+v", view.State)
	}
}

func TestLobby_DisconnectOnTurnAdvancesAfterDelay(t *testing.T) {
	l := newTestLobby(t, Options{StartDelay: time.Millisecond, AdvanceDelay: 30 * time.Millisecond})

	a := connect(t, l, "A")
	b := connect(t, l, "B")
	c := connect(t, l, "C")
	joinAs(t, l, a, "A", "Ann")
	joinAs(t, l, b, "B", "Ben")
	joinAs(t, l, c, "C", "Cat")

	l.Inbox() <- FromClient{ClientID: "admin", Cmd: engine.Command{Type: engine.CmdStart}}
	recvUntil(t, c, engine.EvtTurnChanged, 500*time.Millisecond)

	// A moves, B is now on turn.
	l.Inbox() <- FromClient{ClientID: "A", Cmd: engine.Command{Type: engine.CmdRoll}}
	turn := recvUntil(t, c, engine.EvtTurnChanged, 200*time.Millisecond)
	if turn.Event.PlayerID != "B" {
		t.Fatalf("expected B on turn, got %+v", turn.Event)
	}

	l.Inbox() <- Leave{ClientID: "B"}
	roster := recvUntil(t, c, engine.EvtRosterUpdated, 200*time.Millisecond)
	if len(roster.Event.Players) != 2 {
		t.Fatalf("expected B removed, got %+v", roster.Event.Players)
	}

	turn = recvUntil(t, c, engine.EvtTurnChanged, 500*time.Millisecond)
	if turn.Event.PlayerID != "C" {
		t.Fatalf("expected C after B left, got %+v", turn.Event)
	}
}

func TestLobby_Shutdown_StopsTimer_NoFire(t *testing.T) {
	l := newTestLobby(t, Options{StartDelay: 200 * time.Millisecond})

	out := connect(t, l, "c1")
	joinAs(t, l, out, "c1", "Cy")

	// Arm timer and immediately shut down
	l.Inbox() <- FromClient{ClientID: "admin", Cmd: engine.Command{Type: engine.CmdStart}}
	l.Inbox() <- Shutdown{}

	// Now assert no game start shows up (or channel is closed)
	recvNoEvent(t, out, engine.EvtGameStarted, 400*time.Millisecond)

	if l.Send(GetState{Reply: make(chan View, 1)}) {
		t.Fatalf("Send after shutdown should report failure")
	}
}

type fakeRecorder struct {
	mu    sync.Mutex
	codes []string
	ranks [][]engine.Rank
	done  chan struct{}
}

func (f *fakeRecorder) RecordMatch(ctx context.Context, code string, rankings []engine.Rank) error {
	f.mu.Lock()
	f.codes = append(f.codes, code)
	f.ranks = append(f.ranks, rankings)
	f.mu.Unlock()
	close(f.done)
	return nil
}

type fakePublisher struct {
	msgs chan types.ServerMessage
}

func (f *fakePublisher) Publish(ctx context.Context, code string, msg types.ServerMessage) error {
	f.msgs <- msg
	return nil
}

func TestLobby_GameOverIsArchivedAndPublished(t *testing.T) {
	rec := &fakeRecorder{done: make(chan struct{})}
	pub := &fakePublisher{msgs: make(chan types.ServerMessage, 256)}
	l := newTestLobby(t, Options{StartDelay: time.Millisecond, Recorder: rec, Publisher: pub})

	out := connect(t, l, "solo")
	joinAs(t, l, out, "solo", "Solo")
	l.Inbox() <- FromClient{ClientID: "admin", Cmd: engine.Command{Type: engine.CmdStart}}
	recvUntil(t, out, engine.EvtTurnChanged, 500*time.Millisecond)

	// Rolling 1s with no traps: 21 rolls to finish.
	for i := 0; i < engine.FinishLine; i++ {
		l.Inbox() <- FromClient{ClientID: "solo", Cmd: engine.Command{Type: engine.CmdRoll}}
	}
	over := recvUntil(t, out, engine.EvtGameOver, time.Second)
	if len(over.Event.Rankings) != 1 || over.Event.Rankings[0].PlayerID != "solo" {
		t.Fatalf("unexpected rankings %+v", over.Event.Rankings)
	}

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatalf("match was never archived")
	}
	rec.mu.Lock()
	if rec.codes[0] != "TEST01" {
		t.Fatalf("archived under wrong code %q", rec.codes[0])
	}
	rec.mu.Unlock()

	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-pub.msgs:
			if msg.Type == types.TypeJoined || msg.Type == types.TypeFullState {
				t.Fatalf("sender-only message leaked to publisher: %+v", msg)
			}
			if msg.Type == types.TypeGameOver {
				return
			}
		case <-deadline:
			t.Fatalf("game over never published")
		}
	}
}

// orderedPublisher records what it is given. Its first call is slow, which
// lets later messages overtake it if publishing is not serialized.
type orderedPublisher struct {
	mu    sync.Mutex
	kinds []string
	calls int
}

func (p *orderedPublisher) Publish(ctx context.Context, code string, msg types.ServerMessage) error {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first || msg.Type == types.TypeMoveResolved {
		time.Sleep(20 * time.Millisecond)
	}
	p.mu.Lock()
	p.kinds = append(p.kinds, msg.Type)
	p.mu.Unlock()
	return nil
}

func (p *orderedPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.kinds...)
}

// collectBroadcasts reads ch up to and including the next want event and
// returns the wire types of the broadcast notifications seen on the way.
func collectBroadcasts(t *testing.T, ch <-chan Notification, want engine.EventType) []string {
	t.Helper()
	var out []string
	for {
		n := recvNotification(t, ch, 500*time.Millisecond)
		if n.Err == nil && n.Event.To == "" {
			out = append(out, n.Message().Type)
		}
		if n.Err == nil && n.Event.Type == want {
			return out
		}
	}
}

func TestLobby_MirrorKeepsBroadcastOrder(t *testing.T) {
	pub := &orderedPublisher{}
	l := newTestLobby(t, Options{StartDelay: time.Millisecond, Publisher: pub})

	a := connect(t, l, "A")
	connect(t, l, "B")
	l.Inbox() <- FromClient{ClientID: "A", Cmd: engine.Command{Type: engine.CmdJoin, Name: "Ann"}}
	l.Inbox() <- FromClient{ClientID: "B", Cmd: engine.Command{Type: engine.CmdJoin, Name: "Ben"}}
	l.Inbox() <- FromClient{ClientID: "admin", Cmd: engine.Command{Type: engine.CmdStart}}

	broadcast := collectBroadcasts(t, a, engine.EvtTurnChanged)
	l.Inbox() <- FromClient{ClientID: "A", Cmd: engine.Command{Type: engine.CmdRoll}}
	broadcast = append(broadcast, collectBroadcasts(t, a, engine.EvtTurnChanged)...)

	want := []string{
		types.TypeRosterUpdated, types.TypeRosterUpdated, types.TypeInitiative,
		types.TypeGameStarted, types.TypeTurnChanged,
		types.TypeMoveResolved, types.TypeTurnChanged,
	}
	if !slices.Equal(broadcast, want) {
		t.Fatalf("broadcast order = %v, want %v", broadcast, want)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.seen()) < len(broadcast) {
		if time.Now().After(deadline) {
			t.Fatalf("mirror only got %v", pub.seen())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := pub.seen(); !slices.Equal(got, broadcast) {
		t.Fatalf("mirror order = %v, broadcast order = %v", got, broadcast)
	}
}

func TestLobby_IdleRoomClosesItself(t *testing.T) {
	idle := make(chan *Lobby, 1)
	l := newTestLobby(t, Options{
		IdleTTL: 100 * time.Millisecond,
		OnIdle:  func(lb *Lobby) { idle <- lb },
	})

	out := connect(t, l, "A")
	joinAs(t, l, out, "A", "Ann")

	select {
	case <-idle:
		t.Fatalf("room closed while a client was connected")
	case <-time.After(250 * time.Millisecond):
	}

	l.Inbox() <- Leave{ClientID: "A"}
	select {
	case lb := <-idle:
		if lb != l {
			t.Fatalf("idle callback got another lobby")
		}
	case <-time.After(time.Second):
		t.Fatalf("idle room was never reported")
	}

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby goroutine still running")
	}
	if l.Send(GetState{Reply: make(chan View, 1)}) {
		t.Fatalf("Send to a closed room should fail")
	}
}

func TestLobby_UnvisitedRoomClosesItself(t *testing.T) {
	idle := make(chan *Lobby, 1)
	newTestLobby(t, Options{
		IdleTTL: 20 * time.Millisecond,
		OnIdle:  func(lb *Lobby) { idle <- lb },
	})

	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatalf("room nobody joined was never reported idle")
	}
}
