// Package config loads runtime configuration from a YAML file, an optional
// .env file and environment overrides, in that order of precedence (lowest
// first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Storage   StorageConfig        `yaml:"storage"`
	Auth      AuthConfig           `yaml:"auth"`
	Redis     RedisConfig          `yaml:"redis"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Protocol  Protocol             `yaml:"protocol"`
	Sweeper   SweeperConfig        `yaml:"sweeper"`
	Detectors []DetectorConfig     `yaml:"detectors"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	RateLimit       float64       `yaml:"rate_limit" env:"SERVER_RATE_LIMIT"`
	RateBurst       int           `yaml:"rate_burst" env:"SERVER_RATE_BURST"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	EventBuffer     int           `yaml:"event_buffer" env:"SERVER_EVENT_BUFFER"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"SERVER_CORS_ORIGINS"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	// Driver is one of memory, postgres, leveldb.
	Driver      string `yaml:"driver" env:"STORAGE_DRIVER"`
	DSN         string `yaml:"dsn" env:"DATABASE_URL"`
	Path        string `yaml:"path" env:"STORAGE_PATH"`
	SyncWrites  bool   `yaml:"sync_writes" env:"STORAGE_SYNC_WRITES"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"STORAGE_AUTO_MIGRATE"`
}

// AuthConfig holds token secrets and administrator identities.
type AuthConfig struct {
	JWTSecret        string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	TokenTTL         time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL"`
	CapabilitySecret string        `yaml:"capability_secret" env:"AUTH_CAPABILITY_SECRET"`
	ChallengeTTL     time.Duration `yaml:"challenge_ttl" env:"AUTH_CHALLENGE_TTL"`
	Admins           []string      `yaml:"admins" env:"AUTH_ADMINS"`
}

// RedisConfig enables the event stream exporter when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Stream   string `yaml:"stream" env:"REDIS_STREAM"`
}

// SweeperConfig schedules finalization of expired work.
type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled" env:"SWEEPER_ENABLED"`
	Schedule string `yaml:"schedule" env:"SWEEPER_SCHEDULE"`
	// Operator is the identity the sweeper transacts as.
	Operator string `yaml:"operator" env:"SWEEPER_OPERATOR"`
}

// DetectorConfig describes a remote AI-detection model bound to an oracle
// identity.
type DetectorConfig struct {
	Oracle         string        `yaml:"oracle"`
	URL            string        `yaml:"url"`
	VerdictPath    string        `yaml:"verdict_path"`
	ConfidencePath string        `yaml:"confidence_path"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Protocol carries the tunable constants of the verification and consensus
// rules.
type Protocol struct {
	MinStake          int64         `yaml:"min_stake" env:"PROTOCOL_MIN_STAKE"`
	VotingPeriod      time.Duration `yaml:"voting_period" env:"PROTOCOL_VOTING_PERIOD"`
	RewardPoolPercent int64         `yaml:"reward_pool_percent" env:"PROTOCOL_REWARD_POOL_PERCENT"`
	SlashPercent      int64         `yaml:"slash_percent" env:"PROTOCOL_SLASH_PERCENT"`

	InitialTrust  int `yaml:"initial_trust" env:"PROTOCOL_INITIAL_TRUST"`
	TrustBlendNew int `yaml:"trust_blend_new" env:"PROTOCOL_TRUST_BLEND_NEW"`

	MaxReputation             int `yaml:"max_reputation" env:"PROTOCOL_MAX_REPUTATION"`
	VerifierInitialReputation int `yaml:"verifier_initial_reputation" env:"PROTOCOL_VERIFIER_INITIAL_REPUTATION"`
	VerifierReward            int `yaml:"verifier_reward" env:"PROTOCOL_VERIFIER_REWARD"`
	VerifierPenalty           int `yaml:"verifier_penalty" env:"PROTOCOL_VERIFIER_PENALTY"`

	OracleInitialReputation int           `yaml:"oracle_initial_reputation" env:"PROTOCOL_ORACLE_INITIAL_REPUTATION"`
	OracleReward            int           `yaml:"oracle_reward" env:"PROTOCOL_ORACLE_REWARD"`
	OraclePenalty           int           `yaml:"oracle_penalty" env:"PROTOCOL_ORACLE_PENALTY"`
	OracleQuorum            int           `yaml:"oracle_quorum" env:"PROTOCOL_ORACLE_QUORUM"`
	ConsensusThreshold      float64       `yaml:"consensus_threshold" env:"PROTOCOL_CONSENSUS_THRESHOLD"`
	DecayPeriod             time.Duration `yaml:"decay_period" env:"PROTOCOL_DECAY_PERIOD"`
	DecayPerPeriod          int           `yaml:"decay_per_period" env:"PROTOCOL_DECAY_PER_PERIOD"`
}

// DefaultProtocol returns the reference constants.
func DefaultProtocol() Protocol {
	return Protocol{
		MinStake:                  1000,
		VotingPeriod:              24 * time.Hour,
		RewardPoolPercent:         80,
		SlashPercent:              10,
		InitialTrust:              50,
		TrustBlendNew:             70,
		MaxReputation:             1000,
		VerifierInitialReputation: 100,
		VerifierReward:            10,
		VerifierPenalty:           20,
		OracleInitialReputation:   500,
		OracleReward:              20,
		OraclePenalty:             30,
		OracleQuorum:              3,
		ConsensusThreshold:        66,
		DecayPeriod:               30 * 24 * time.Hour,
		DecayPerPeriod:            50,
	}
}

// Validate rejects tunables that would break the protocol invariants.
func (p Protocol) Validate() error {
	switch {
	case p.MinStake <= 0:
		return errors.New("protocol.min_stake must be positive")
	case p.VotingPeriod <= 0:
		return errors.New("protocol.voting_period must be positive")
	case p.RewardPoolPercent < 0 || p.RewardPoolPercent > 100:
		return errors.New("protocol.reward_pool_percent must be within [0,100]")
	case p.SlashPercent < 0 || p.SlashPercent > 100:
		return errors.New("protocol.slash_percent must be within [0,100]")
	case p.InitialTrust < 0 || p.InitialTrust > 100:
		return errors.New("protocol.initial_trust must be within [0,100]")
	case p.TrustBlendNew < 0 || p.TrustBlendNew > 100:
		return errors.New("protocol.trust_blend_new must be within [0,100]")
	case p.MaxReputation <= 0:
		return errors.New("protocol.max_reputation must be positive")
	case p.VerifierInitialReputation < 0 || p.VerifierInitialReputation > p.MaxReputation:
		return errors.New("protocol.verifier_initial_reputation out of range")
	case p.OracleInitialReputation < 0 || p.OracleInitialReputation > p.MaxReputation:
		return errors.New("protocol.oracle_initial_reputation out of range")
	case p.OracleQuorum <= 0:
		return errors.New("protocol.oracle_quorum must be positive")
	case p.ConsensusThreshold <= 50 || p.ConsensusThreshold > 100:
		return errors.New("protocol.consensus_threshold must be within (50,100]")
	case p.DecayPeriod <= 0:
		return errors.New("protocol.decay_period must be positive")
	case p.DecayPerPeriod < 0:
		return errors.New("protocol.decay_per_period must not be negative")
	}
	return nil
}

// Default returns a configuration suitable for local development.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			RateLimit:       50,
			RateBurst:       100,
			ShutdownTimeout: 15 * time.Second,
			EventBuffer:     1000,
			CORSOrigins:     []string{"*"},
		},
		Storage: StorageConfig{Driver: "memory"},
		Auth: AuthConfig{
			TokenTTL:     24 * time.Hour,
			ChallengeTTL: 5 * time.Minute,
		},
		Redis:    RedisConfig{Stream: "provenance:events"},
		Logging:  logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Protocol: DefaultProtocol(),
		Sweeper:  SweeperConfig{Enabled: true, Schedule: "@every 1m", Operator: "sweeper"},
	}
}

// Load reads path (optional), then envFile (optional), then the process
// environment.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
	case "leveldb":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the leveldb driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be positive")
	}
	for i, d := range c.Detectors {
		if d.Oracle == "" || d.URL == "" || d.VerdictPath == "" {
			return fmt.Errorf("detectors[%d]: oracle, url and verdict_path are required", i)
		}
	}
	return c.Protocol.Validate()
}
