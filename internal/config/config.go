package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr  string `help:"Address to listen on." default:":8080" env:"ADDR"`
	Debug bool   `help:"Enable debug logging." env:"DEBUG"`

	StartDelay   time.Duration `help:"Pause between the initiative reveal and the first turn." default:"3s" env:"START_DELAY"`
	AdvanceDelay time.Duration `help:"Pause before passing the turn on when the current player disconnects." default:"750ms" env:"ADVANCE_DELAY"`
	RoomIdleTTL  time.Duration `help:"How long a room with no connections lives before it is closed." default:"10m" env:"ROOM_IDLE_TTL"`

	AllowedOrigins []string `help:"Websocket origin patterns accepted besides same-origin." env:"ALLOWED_ORIGINS" sep:","`

	DBDriver string `help:"Results archive driver (postgres or sqlite). Empty disables the archive." name:"db-driver" env:"DB_DRIVER"`
	DBDSN    string `help:"Results archive connection string." name:"db-dsn" env:"DB_DSN"`

	RedisAddr     string `help:"Redis address for mirroring room notifications. Empty disables it." env:"REDIS_ADDR"`
	RedisPassword string `help:"Redis password." env:"REDIS_PASSWORD"`
	RedisDB       int    `help:"Redis database number." default:"0" env:"REDIS_DB"`
}

// Load reads the given dotenv files (missing ones are skipped), then parses
// args with environment fallbacks. Variables already set in the process win
// over the files.
func Load(args []string, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	parser, err := kong.New(&cfg,
		kong.Name("raceboard"),
		kong.Description("Race-board game server."),
		kong.UsageOnError(),
	)
	if err != nil {
		return Config{}, err
	}
	if _, err := parser.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown db driver %q", c.DBDriver)
	}
	if c.DBDriver != "" && c.DBDSN == "" {
		return errors.New("db-dsn is required when db-driver is set")
	}
	if c.StartDelay < 0 || c.AdvanceDelay < 0 || c.RoomIdleTTL < 0 {
		return errors.New("delays must not be negative")
	}
	return nil
}
