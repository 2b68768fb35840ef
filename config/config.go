package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/quorumfeed/quorumfeed/api"
	"github.com/quorumfeed/quorumfeed/types"
)

// Config is the daemon configuration, loaded from YAML with QUORUMFEED_*
// environment overrides.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`

	API struct {
		Host        string   `mapstructure:"host"`
		Port        string   `mapstructure:"port"`
		JWTSecret   string   `mapstructure:"jwt_secret"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"api"`

	Events struct {
		BufferSize int `mapstructure:"buffer_size"`
		Workers    int `mapstructure:"workers"`
	} `mapstructure:"events"`

	// Role assignments applied at startup.
	Admins    []string `mapstructure:"admins"`
	Guardians []string `mapstructure:"guardians"`
	Oracles   []string `mapstructure:"oracles"`
	Verifiers []string `mapstructure:"verifiers"`

	// Engine parameter overrides; unset keys keep defaults.
	Params map[string]interface{} `mapstructure:"params"`
}

// Load reads the configuration file at path (optional) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", "8080")
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.workers", 2)

	v.SetEnvPrefix("QUORUMFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// EngineParams merges the params override map onto the defaults.
func (c *Config) EngineParams() (types.Params, error) {
	p := types.DefaultParams()
	for key, raw := range c.Params {
		switch strings.ToLower(key) {
		case "minimum_stake":
			n, ok := math.NewIntFromString(cast.ToString(raw))
			if !ok {
				return p, fmt.Errorf("invalid minimum_stake %v", raw)
			}
			p.MinimumStake = n
		case "maximum_stake":
			n, ok := math.NewIntFromString(cast.ToString(raw))
			if !ok {
				return p, fmt.Errorf("invalid maximum_stake %v", raw)
			}
			p.MaximumStake = n
		case "slash_percentage_bps":
			p.SlashPercentageBps = cast.ToInt64(raw)
		case "reputation_decay_bps":
			p.ReputationDecayBps = cast.ToInt64(raw)
		case "reputation_reward_bps":
			p.ReputationRewardBps = cast.ToInt64(raw)
		case "failure_threshold":
			p.FailureThreshold = cast.ToUint32(raw)
		case "success_threshold":
			p.SuccessThreshold = cast.ToUint32(raw)
		case "cooldown_seconds":
			p.CooldownSeconds = cast.ToInt64(raw)
		case "price_deviation_threshold_bps":
			p.PriceDeviationThresholdBps = cast.ToInt64(raw)
		case "max_twap_deviation_bps":
			p.MaxTWAPDeviationBps = cast.ToInt64(raw)
		case "max_observation_gap_seconds":
			p.MaxObservationGapSeconds = cast.ToInt64(raw)
		case "twap_window_seconds":
			p.TWAPWindowSeconds = cast.ToInt64(raw)
		case "required_approvals":
			p.RequiredApprovals = cast.ToUint32(raw)
		case "proof_expiry_seconds":
			p.ProofExpirySeconds = cast.ToInt64(raw)
		case "max_batch_size":
			p.MaxBatchSize = cast.ToInt(raw)
		case "ring_capacity":
			p.RingCapacity = cast.ToInt(raw)
		case "max_submissions_per_window":
			p.MaxSubmissionsPerWindow = cast.ToInt(raw)
		case "rate_limit_window_seconds":
			p.RateLimitWindowSeconds = cast.ToInt64(raw)
		case "dispute_period_seconds":
			p.DisputePeriodSeconds = cast.ToInt64(raw)
		case "inactivity_period_seconds":
			p.InactivityPeriodSeconds = cast.ToInt64(raw)
		default:
			return p, fmt.Errorf("unknown params key %q", key)
		}
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// APIConfig builds the HTTP server configuration.
func (c *Config) APIConfig() (*api.Config, error) {
	cfg := api.DefaultConfig()
	cfg.Host = c.API.Host
	cfg.Port = c.API.Port
	cfg.CORSOrigins = c.API.CORSOrigins
	cfg.ReadTimeout = 15 * time.Second
	cfg.WriteTimeout = 15 * time.Second
	if c.API.JWTSecret != "" {
		secret, err := hex.DecodeString(c.API.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("jwt_secret must be hex: %w", err)
		}
		cfg.JWTSecret = secret
	}
	return cfg, nil
}
