package pgqueue

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/systeric/pgqueue/storage"
)

// Config parameterizes a Queue's consumption loop and sweepers. Zero
// values are not valid configuration; callers either build one by hand
// or obtain defaults via DefaultConfig and override individual fields.
type Config struct {
	// QueueName identifies this queue's table and notification channel.
	QueueName string `mapstructure:"queue_name"`

	// Concurrency is the number of messages handled at once.
	Concurrency int `mapstructure:"concurrency"`

	// PollInterval is the fallback claim-attempt period used when no
	// Listener notification arrives in the meantime.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// VisibilityTimeout is the duration a claimed message may stay
	// Processing before the stale-reset sweep reclaims it.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`

	// StaleSweepInterval is how often the stale-reset sweep runs.
	StaleSweepInterval time.Duration `mapstructure:"stale_sweep_interval"`

	// RetrySweepInterval is how often the retry-promotion sweep runs.
	RetrySweepInterval time.Duration `mapstructure:"retry_sweep_interval"`

	// SweepBackoff parameterizes the retry delay a sweeper applies after
	// a failing pass, before returning to its regular interval.
	SweepBackoff BackoffConfig `mapstructure:"sweep_backoff"`
}

// BackoffConfig controls how quickly a failing sweep pass is retried.
// It is unrelated to the fixed exponential backoff the storage adapter
// applies to failed messages (spec §4.1), which is not configurable.
type BackoffConfig struct {
	MaxRetries          uint32        `mapstructure:"max_retries"`
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
}

// DefaultConfig returns a Config with the defaults spec.md §4.2/§4.4
// states: concurrency 1, visibility timeout 5 minutes, sweep interval 5
// seconds (applied to both sweepers, which share one default even though
// each is independently configurable), and a sweep backoff that starts
// at 1 second, doubles on each consecutive failure and caps at 60
// seconds, per spec.md §4.4's "non-overlapping recursive delay" formula.
// PollInterval has no spec default to match — it is this repo's own
// fallback cadence for draining when a LISTEN/NOTIFY wake-up is missed —
// and is set to the same 5 seconds as the sweep interval for a single
// easy-to-reason-about cadence.
func DefaultConfig(queueName string) Config {
	return Config{
		QueueName:          queueName,
		Concurrency:        1,
		PollInterval:       5 * time.Second,
		VisibilityTimeout:  5 * time.Minute,
		StaleSweepInterval: 5 * time.Second,
		RetrySweepInterval: 5 * time.Second,
		SweepBackoff: BackoffConfig{
			MaxRetries:      0,
			InitialInterval: 1 * time.Second,
			MaxInterval:     60 * time.Second,
			Multiplier:      2,
		},
	}
}

// Validate reports the first configuration invariant Config violates.
func (c Config) Validate() error {
	if c.QueueName == "" {
		return fmt.Errorf("pgqueue: queue_name must not be empty")
	}
	if err := storage.ValidateQueueName(c.QueueName); err != nil {
		return fmt.Errorf("pgqueue: %w", err)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("pgqueue: concurrency must be >= 1")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("pgqueue: poll_interval must be > 0")
	}
	if c.VisibilityTimeout <= 0 {
		return fmt.Errorf("pgqueue: visibility_timeout must be > 0")
	}
	if c.StaleSweepInterval <= 0 {
		return fmt.Errorf("pgqueue: stale_sweep_interval must be > 0")
	}
	if c.RetrySweepInterval <= 0 {
		return fmt.Errorf("pgqueue: retry_sweep_interval must be > 0")
	}
	return nil
}

// LoadConfigFromEnv reads Config from configFile (any format viper
// supports: YAML, JSON, TOML, env) layered over DefaultConfig(queueName),
// then validates the result. This is optional sugar; callers that build
// Config by hand never need to import viper.
func LoadConfigFromEnv(configFile, queueName string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	defaults := DefaultConfig(queueName)
	v.SetDefault("queue_name", defaults.QueueName)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("poll_interval", defaults.PollInterval)
	v.SetDefault("visibility_timeout", defaults.VisibilityTimeout)
	v.SetDefault("stale_sweep_interval", defaults.StaleSweepInterval)
	v.SetDefault("retry_sweep_interval", defaults.RetrySweepInterval)
	v.SetDefault("sweep_backoff", defaults.SweepBackoff)
	v.SetEnvPrefix("PGQUEUE")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
