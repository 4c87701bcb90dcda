// Package config holds every tunable of the cheese server: tick rate, balance constants,
// the upgrade catalog, bonus timers, gating, storage and transport settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/rules"
	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
)

// Config is the root configuration document.
type Config struct {
	Tick    TickConfig           `yaml:"tick"`
	Economy rules.Params         `yaml:"economy"`
	Catalog []upgrade.Definition `yaml:"catalog"`
	Bonus   BonusConfig          `yaml:"bonus"`
	Gate    GateConfig           `yaml:"gate"`
	Storage StorageConfig        `yaml:"storage"`
	Server  ServerConfig         `yaml:"server"`
	Log     LogConfig            `yaml:"log"`
}

// TickConfig drives passive accrual.
type TickConfig struct {
	Rate       int           `yaml:"rate"`       // Ticks per second
	CatchUp    bool          `yaml:"catchUp"`    // Use wall-clock deltas instead of 1/rate
	MaxCatchUp time.Duration `yaml:"maxCatchUp"` // Upper bound of a single catch-up delta
}

// BonusWeights are the relative odds of each bonus outcome.
type BonusWeights struct {
	LumpSum     float64 `yaml:"lumpSum"`
	CPSBoost    float64 `yaml:"cpsBoost"`
	CPCBoost    float64 `yaml:"cpcBoost"`
	DoubleBoost float64 `yaml:"doubleBoost"`
	FreeUpgrade float64 `yaml:"freeUpgrade"`
}

// BonusConfig drives the random bonus-event scheduler.
type BonusConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MinInterval    time.Duration `yaml:"minInterval"`
	MaxInterval    time.Duration `yaml:"maxInterval"`
	ClaimWindow    time.Duration `yaml:"claimWindow"`
	BoostDuration  time.Duration `yaml:"boostDuration"`
	Weights        BonusWeights  `yaml:"weights"`
	LumpSumFloor   float64       `yaml:"lumpSumFloor"`
	LumpSumSeconds float64       `yaml:"lumpSumSeconds"` // Seconds of cps granted
	LumpSumClicks  float64       `yaml:"lumpSumClicks"`  // Clicks of cpc granted
	Seed           int64         `yaml:"seed"`           // 0 seeds from the clock
}

// Gate modes.
const (
	GateModeQuiz    = "quiz"
	GateModeApprove = "approve"
	GateModeReject  = "reject"
)

// GateConfig selects and tunes the gating mechanism.
type GateConfig struct {
	Mode         string        `yaml:"mode"`
	Timeout      time.Duration `yaml:"timeout"` // 0 waits forever
	Language     string        `yaml:"language"`
	QuestionsDir string        `yaml:"questionsDir"` // Holds questions_<lang>.json; empty uses the built-in bank
	EmptyPolicy  string        `yaml:"emptyPolicy"`  // approve, reject or pending
	AnswerDelay  time.Duration `yaml:"answerDelay"`  // Pause before an answer resolves, lets the UI show the result
}

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend     string        `yaml:"backend"`
	Path        string        `yaml:"path"`
	Slot        string        `yaml:"slot"`
	SaveTimeout time.Duration `yaml:"saveTimeout"`
	Redis       RedisConfig   `yaml:"redis"`
}

// RedisConfig enables the optional write-through Redis cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ServerConfig tunes the HTTP and WebSocket surface.
type ServerConfig struct {
	Addr                string `yaml:"addr"`
	EventLogCapacity    int    `yaml:"eventLogCapacity"`
	SubscriberBuffer    int    `yaml:"subscriberBuffer"`
	ClientSendBuffer    int    `yaml:"clientSendBuffer"`
	MaxActionsPerSecond int    `yaml:"maxActionsPerSecond"` // Per client
}

// LogConfig tunes logging.
type LogConfig struct {
	Quiet bool `yaml:"quiet"`
}

// DefaultConfig returns sensible defaults for production.
func DefaultConfig() *Config {
	return &Config{
		Tick: TickConfig{
			Rate:       20,
			MaxCatchUp: time.Hour,
		},
		Economy: rules.DefaultParams(),
		Catalog: upgrade.DefaultDefinitions(),
		Bonus: BonusConfig{
			Enabled:       true,
			MinInterval:   3 * time.Minute,
			MaxInterval:   10 * time.Minute,
			ClaimWindow:   2 * time.Minute,
			BoostDuration: 77 * time.Second,
			Weights: BonusWeights{
				LumpSum:     40,
				CPSBoost:    25,
				CPCBoost:    20,
				DoubleBoost: 8,
				FreeUpgrade: 7,
			},
			LumpSumFloor:   50,
			LumpSumSeconds: 120,
			LumpSumClicks:  20,
		},
		Gate: GateConfig{
			Mode:        GateModeQuiz,
			Language:    "en",
			EmptyPolicy: "approve",
			AnswerDelay: 1200 * time.Millisecond,
		},
		Storage: StorageConfig{
			Backend:     BackendSQLite,
			Path:        "data/cheese.db",
			Slot:        "default",
			SaveTimeout: 2 * time.Second,
			Redis: RedisConfig{
				Addr: "localhost:6379",
				TTL:  15 * time.Minute,
			},
		},
		Server: ServerConfig{
			Addr:                ":8080",
			EventLogCapacity:    1024,
			SubscriberBuffer:    256,
			ClientSendBuffer:    64,
			MaxActionsPerSecond: 30,
		},
	}
}

// DevConfig returns settings for local development: in-memory saves and frequent bonuses.
func DevConfig() *Config {
	cfg := DefaultConfig()
	cfg.Storage.Backend = BackendMemory
	cfg.Bonus.MinInterval = 20 * time.Second
	cfg.Bonus.MaxInterval = 40 * time.Second
	cfg.Bonus.ClaimWindow = 15 * time.Second
	cfg.Bonus.BoostDuration = 20 * time.Second
	cfg.Gate.AnswerDelay = 0
	cfg.Server.EventLogCapacity = 128
	cfg.Server.SubscriberBuffer = 32
	cfg.Server.ClientSendBuffer = 16
	return cfg
}

// Load overlays the YAML file at path on top of DefaultConfig and validates the result.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Tick.Rate <= 0 {
		return fmt.Errorf("tick.rate must be positive, got %d", c.Tick.Rate)
	}
	if c.Tick.CatchUp && c.Tick.MaxCatchUp <= 0 {
		return fmt.Errorf("tick.maxCatchUp must be positive when catch-up is enabled")
	}
	if c.Economy.Growth <= 1 {
		return fmt.Errorf("economy.growth must be above 1, got %v", c.Economy.Growth)
	}
	if c.Economy.Damping < 0 || c.Economy.CostConstant <= 0 || c.Economy.CostExponent <= 0 {
		return fmt.Errorf("economy cost and damping constants must be positive")
	}
	if c.Economy.LevelCostBase <= 0 {
		return fmt.Errorf("economy.levelCostBase must be positive")
	}
	if c.Economy.MaxPurchases < 0 {
		return fmt.Errorf("economy.maxPurchases must not be negative, got %d", c.Economy.MaxPurchases)
	}
	if _, err := c.UpgradeCatalog(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	b := c.Bonus
	if b.Enabled {
		if b.MinInterval <= 0 || b.MaxInterval < b.MinInterval {
			return fmt.Errorf("bonus intervals must satisfy 0 < minInterval <= maxInterval")
		}
		if b.ClaimWindow <= 0 || b.BoostDuration <= 0 {
			return fmt.Errorf("bonus.claimWindow and bonus.boostDuration must be positive")
		}
	}
	w := b.Weights
	if w.LumpSum < 0 || w.CPSBoost < 0 || w.CPCBoost < 0 || w.DoubleBoost < 0 || w.FreeUpgrade < 0 {
		return fmt.Errorf("bonus weights must not be negative")
	}

	switch c.Gate.Mode {
	case GateModeQuiz, GateModeApprove, GateModeReject:
	default:
		return fmt.Errorf("unknown gate.mode %q", c.Gate.Mode)
	}
	switch c.Gate.EmptyPolicy {
	case "approve", "reject", "pending":
	default:
		return fmt.Errorf("unknown gate.emptyPolicy %q", c.Gate.EmptyPolicy)
	}
	if c.Gate.Timeout < 0 {
		return fmt.Errorf("gate.timeout must not be negative")
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.Slot == "" {
		return fmt.Errorf("storage.slot must not be empty")
	}
	if c.Storage.Redis.Enabled && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required when the redis cache is enabled")
	}
	return nil
}

// UpgradeCatalog builds the catalog described by the configuration.
func (c *Config) UpgradeCatalog() (*upgrade.Catalog, error) {
	if len(c.Catalog) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	return upgrade.NewCatalog(c.Catalog)
}
