package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/minigame-host/internal/instance"
)

const envPrefix = "MINIGAME_"

// Game holds the limits of one minigame.
type Game struct {
	Enabled           bool          `env:"ENABLED"`
	MinPlayers        int           `env:"MIN_PLAYERS"`
	MaxPlayers        int           `env:"MAX_PLAYERS"`
	CountdownNormal   int           `env:"COUNTDOWN_NORMAL"`
	CountdownFull     int           `env:"COUNTDOWN_FULL"`
	CountdownStep     time.Duration `env:"COUNTDOWN_STEP"`
	TickRate          int           `env:"TICK_RATE"`
	TimeLimit         time.Duration `env:"TIME_LIMIT"`
	SettleDelay       time.Duration `env:"SETTLE_DELAY"`
	TickFailureBudget int           `env:"TICK_FAILURE_BUDGET"`
	Trigger           string        `env:"TRIGGER"`
}

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR"`
	LogLevel        string        `env:"LOG_LEVEL"`
	LogDev          bool          `env:"LOG_DEV"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	StatsBuffer     int           `env:"STATS_BUFFER"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	LobbyX          int           `env:"LOBBY_X"`
	LobbyY          int           `env:"LOBBY_Y"`

	Defense    Game `envPrefix:"DEFENSE_"`
	FreeForAll Game `envPrefix:"FFA_"`
	RedLight   Game `envPrefix:"RLGL_"`
}

func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		StatsBuffer:     256,
		ShutdownTimeout: 10 * time.Second,
		LobbyX:          461,
		LobbyY:          1104,
		Defense: Game{
			Enabled:           true,
			MinPlayers:        2,
			MaxPlayers:        8,
			CountdownNormal:   40,
			CountdownFull:     10,
			CountdownStep:     time.Second,
			TickRate:          20,
			SettleDelay:       5 * time.Second,
			TickFailureBudget: 50,
			Trigger:           "Zombies",
		},
		FreeForAll: Game{
			Enabled:           true,
			MinPlayers:        2,
			MaxPlayers:        8,
			CountdownNormal:   30,
			CountdownFull:     10,
			CountdownStep:     time.Second,
			TickRate:          20,
			SettleDelay:       5 * time.Second,
			TickFailureBudget: 50,
			Trigger:           "Shooter (",
		},
		RedLight: Game{
			Enabled:           true,
			MinPlayers:        1,
			MaxPlayers:        12,
			CountdownNormal:   45,
			CountdownFull:     45,
			CountdownStep:     time.Second,
			TickRate:          10,
			TimeLimit:         120 * time.Second,
			SettleDelay:       8 * time.Second,
			TickFailureBudget: 50,
			Trigger:           "RLGL",
		},
	}
}

// Load reads an optional .env file and then MINIGAME_* variables over the
// defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{Prefix: envPrefix})
}

func parse(opts env.Options) (Config, error) {
	cfg := Default()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.StatsBuffer < 1 {
		return fmt.Errorf("stats buffer must be positive, got %d", c.StatsBuffer)
	}
	for name, g := range map[string]Game{"defense": c.Defense, "freeforall": c.FreeForAll, "redlight": c.RedLight} {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (g Game) Validate() error {
	switch {
	case g.MinPlayers < 1:
		return fmt.Errorf("min players must be at least 1, got %d", g.MinPlayers)
	case g.MaxPlayers < g.MinPlayers:
		return fmt.Errorf("max players %d below min players %d", g.MaxPlayers, g.MinPlayers)
	case g.TickRate < 1:
		return fmt.Errorf("tick rate must be at least 1, got %d", g.TickRate)
	case g.CountdownNormal < 0 || g.CountdownFull < 0:
		return fmt.Errorf("countdown steps must not be negative")
	case g.CountdownStep <= 0:
		return fmt.Errorf("countdown step must be positive, got %s", g.CountdownStep)
	case g.TickFailureBudget < 0:
		return fmt.Errorf("tick failure budget must not be negative, got %d", g.TickFailureBudget)
	case g.Trigger == "":
		return fmt.Errorf("trigger is required")
	}
	return nil
}

// Instance converts the game limits into the per-instance configuration.
func (c Config) Instance(name string, g Game) instance.Config {
	return instance.Config{
		Name:              name,
		MinPlayers:        g.MinPlayers,
		MaxPlayers:        g.MaxPlayers,
		CountdownNormal:   g.CountdownNormal,
		CountdownFull:     g.CountdownFull,
		CountdownStep:     g.CountdownStep,
		TickRate:          g.TickRate,
		TimeLimit:         g.TimeLimit,
		SettleDelay:       g.SettleDelay,
		TickFailureBudget: g.TickFailureBudget,
		LobbyX:            c.LobbyX,
		LobbyY:            c.LobbyY,
	}
}
