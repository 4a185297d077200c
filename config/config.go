// Package config loads taskgraph settings from defaults, a config file,
// TASKGRAPH_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/hupe1980/taskgraph/coordinator"
	"github.com/hupe1980/taskgraph/graph"
	"github.com/hupe1980/taskgraph/logging"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/reflection"
	"github.com/hupe1980/taskgraph/retry"
)

// EnvPrefix prefixes environment overrides, e.g. TASKGRAPH_RETRY_COUNT.
const EnvPrefix = "TASKGRAPH"

// Store drivers.
const (
	StoreNone   = "none"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the complete configuration surface.
type Config struct {
	Retry       RetryConfig       `mapstructure:"retry"`
	Graph       GraphConfig       `mapstructure:"graph"`
	Reflection  ReflectionConfig  `mapstructure:"reflection"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Store       StoreConfig       `mapstructure:"store"`
	Log         LogConfig         `mapstructure:"log"`
}

// RetryConfig configures the resilient invoker.
type RetryConfig struct {
	Count        int           `mapstructure:"count"`
	Backoff      string        `mapstructure:"backoff"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// GraphConfig bounds graph runs.
type GraphConfig struct {
	MaxSteps       int           `mapstructure:"max_steps"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// ReflectionConfig configures the generate/critique loop.
type ReflectionConfig struct {
	Threshold     float64 `mapstructure:"threshold"`
	MaxIterations int     `mapstructure:"max_iterations"`
}

// CoordinatorConfig configures the travel planner.
type CoordinatorConfig struct {
	// RateLimit caps collaborator calls per second; 0 disables pacing.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// MemoryConfig configures the memory store and its feedback policy.
type MemoryConfig struct {
	Alpha             float64       `mapstructure:"alpha"`
	Beta              float64       `mapstructure:"beta"`
	Gamma             float64       `mapstructure:"gamma"`
	ShortTermCapacity int           `mapstructure:"short_term_capacity"`
	LongTermCapacity  int           `mapstructure:"long_term_capacity"`
	HalfLife          time.Duration `mapstructure:"half_life"`
	IdleWindow        time.Duration `mapstructure:"idle_window"`
	Floor             float64       `mapstructure:"floor"`
	InitialQuality    float64       `mapstructure:"initial_quality"`
	LearningRate      float64       `mapstructure:"learning_rate"`
	DecayRate         float64       `mapstructure:"decay_rate"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// DSN is the sqlite database path.
	DSN       string `mapstructure:"dsn"`
	RedisAddr string `mapstructure:"redis_addr"`
	Prefix    string `mapstructure:"prefix"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	fb := memory.NewMovingAverageFeedback()

	return &Config{
		Retry: RetryConfig{
			Count:        retry.DefaultPolicy.MaxAttempts,
			Backoff:      string(retry.StrategyFixed),
			InitialDelay: retry.DefaultPolicy.InitialDelay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
		},
		Graph: GraphConfig{
			MaxSteps: graph.DefaultMaxSteps,
		},
		Reflection: ReflectionConfig{
			Threshold:     reflection.DefaultOptions.Threshold,
			MaxIterations: reflection.DefaultOptions.MaxIterations,
		},
		Coordinator: CoordinatorConfig{Burst: 1},
		Memory: MemoryConfig{
			Alpha:             memory.DefaultWeights.Alpha,
			Beta:              memory.DefaultWeights.Beta,
			Gamma:             memory.DefaultWeights.Gamma,
			ShortTermCapacity: memory.DefaultShortTermCapacity,
			HalfLife:          memory.DefaultHalfLife,
			IdleWindow:        fb.IdleWindow,
			Floor:             fb.Floor,
			InitialQuality:    fb.InitialQuality,
			LearningRate:      fb.LearningRate,
			DecayRate:         fb.DecayRate,
		},
		Store: StoreConfig{
			Driver: StoreNone,
			DSN:    "taskgraph.db",
			Prefix: "taskgraph:",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"retry-count":               "retry.count",
	"retry-backoff":             "retry.backoff",
	"retry-initial-delay":       "retry.initial_delay",
	"retry-max-delay":           "retry.max_delay",
	"graph-max-steps":           "graph.max_steps",
	"graph-timeout":             "graph.timeout",
	"graph-max-concurrency":     "graph.max_concurrency",
	"reflection-threshold":      "reflection.threshold",
	"reflection-max-iterations": "reflection.max_iterations",
	"rate-limit":                "coordinator.rate_limit",
	"store":                     "store.driver",
	"store-dsn":                 "store.dsn",
	"redis-addr":                "store.redis_addr",
	"log-level":                 "log.level",
	"log-format":                "log.format",
}

// BindFlags registers the command-line overrides on fs.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.Int("retry-count", d.Retry.Count, "maximum attempts per task, including the first")
	fs.String("retry-backoff", d.Retry.Backoff, "delay strategy between attempts (fixed|exponential)")
	fs.Duration("retry-initial-delay", d.Retry.InitialDelay, "delay before the first retry")
	fs.Duration("retry-max-delay", d.Retry.MaxDelay, "upper bound for exponential delays")
	fs.Int("graph-max-steps", d.Graph.MaxSteps, "node executions allowed per run")
	fs.Duration("graph-timeout", d.Graph.Timeout, "wall-clock bound per run (0 disables)")
	fs.Int("graph-max-concurrency", d.Graph.MaxConcurrency, "concurrently running branches (0 is unbounded)")
	fs.Float64("reflection-threshold", d.Reflection.Threshold, "critique score that accepts a draft")
	fs.Int("reflection-max-iterations", d.Reflection.MaxIterations, "maximum generate/critique passes")
	fs.Float64("rate-limit", d.Coordinator.RateLimit, "collaborator calls per second (0 disables)")
	fs.String("store", d.Store.Driver, "persistence backend (none|sqlite|redis)")
	fs.String("store-dsn", d.Store.DSN, "sqlite database path")
	fs.String("redis-addr", d.Store.RedisAddr, "redis server address")
	fs.String("log-level", d.Log.Level, "log level (debug|info|warn|error)")
	fs.String("log-format", d.Log.Format, "log format (text|json)")
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("retry.count", d.Retry.Count)
	v.SetDefault("retry.backoff", d.Retry.Backoff)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("graph.max_steps", d.Graph.MaxSteps)
	v.SetDefault("graph.timeout", d.Graph.Timeout)
	v.SetDefault("graph.max_concurrency", d.Graph.MaxConcurrency)
	v.SetDefault("reflection.threshold", d.Reflection.Threshold)
	v.SetDefault("reflection.max_iterations", d.Reflection.MaxIterations)
	v.SetDefault("coordinator.rate_limit", d.Coordinator.RateLimit)
	v.SetDefault("coordinator.burst", d.Coordinator.Burst)
	v.SetDefault("memory.alpha", d.Memory.Alpha)
	v.SetDefault("memory.beta", d.Memory.Beta)
	v.SetDefault("memory.gamma", d.Memory.Gamma)
	v.SetDefault("memory.short_term_capacity", d.Memory.ShortTermCapacity)
	v.SetDefault("memory.long_term_capacity", d.Memory.LongTermCapacity)
	v.SetDefault("memory.half_life", d.Memory.HalfLife)
	v.SetDefault("memory.idle_window", d.Memory.IdleWindow)
	v.SetDefault("memory.floor", d.Memory.Floor)
	v.SetDefault("memory.initial_quality", d.Memory.InitialQuality)
	v.SetDefault("memory.learning_rate", d.Memory.LearningRate)
	v.SetDefault("memory.decay_rate", d.Memory.DecayRate)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.prefix", d.Store.Prefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the configuration. path may be empty; flags may be nil or a
// set prepared with BindFlags, in which case only flags set explicitly
// override file and environment values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Retry.Count >= 1, "retry.count must be >= 1, got %d", c.Retry.Count)
	check(c.Retry.Backoff == string(retry.StrategyFixed) || c.Retry.Backoff == string(retry.StrategyExponential),
		"retry.backoff must be fixed or exponential, got %q", c.Retry.Backoff)
	check(c.Retry.InitialDelay >= 0, "retry.initial_delay must not be negative")
	check(c.Retry.MaxDelay >= 0, "retry.max_delay must not be negative")

	check(c.Graph.MaxSteps >= 1, "graph.max_steps must be >= 1, got %d", c.Graph.MaxSteps)
	check(c.Graph.Timeout >= 0, "graph.timeout must not be negative")
	check(c.Graph.MaxConcurrency >= 0, "graph.max_concurrency must not be negative")

	check(c.Reflection.Threshold >= 0 && c.Reflection.Threshold <= reflection.MaxScore,
		"reflection.threshold must be within [0, %g], got %g", reflection.MaxScore, c.Reflection.Threshold)
	check(c.Reflection.MaxIterations >= 1, "reflection.max_iterations must be >= 1, got %d", c.Reflection.MaxIterations)

	check(c.Coordinator.RateLimit >= 0, "coordinator.rate_limit must not be negative")

	if err := c.weights().Validate(); err != nil {
		errs = append(errs, err)
	}

	check(c.Memory.ShortTermCapacity >= 1, "memory.short_term_capacity must be >= 1, got %d", c.Memory.ShortTermCapacity)
	check(c.Memory.LongTermCapacity >= 0, "memory.long_term_capacity must not be negative")
	check(c.Memory.HalfLife > 0, "memory.half_life must be positive")
	check(c.Memory.Floor >= 0 && c.Memory.Floor <= 1, "memory.floor must be within [0, 1], got %g", c.Memory.Floor)
	check(c.Memory.InitialQuality >= c.Memory.Floor && c.Memory.InitialQuality <= 1,
		"memory.initial_quality must be within [floor, 1], got %g", c.Memory.InitialQuality)
	check(c.Memory.LearningRate >= 0 && c.Memory.LearningRate <= 1, "memory.learning_rate must be within [0, 1]")
	check(c.Memory.DecayRate >= 0 && c.Memory.DecayRate <= 1, "memory.decay_rate must be within [0, 1]")

	switch c.Store.Driver {
	case StoreNone, StoreSQLite:
	case StoreRedis:
		check(c.Store.RedisAddr != "", "store.redis_addr is required for the redis store")
	default:
		errs = append(errs, fmt.Errorf("store.driver must be none, sqlite or redis, got %q", c.Store.Driver))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format must be text or json, got %q", c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}

	return nil
}

func (c *Config) weights() memory.Weights {
	return memory.Weights{Alpha: c.Memory.Alpha, Beta: c.Memory.Beta, Gamma: c.Memory.Gamma}
}

// RetryPolicy converts the retry settings.
func (c *Config) RetryPolicy() retry.Policy {
	if c.Retry.Backoff == string(retry.StrategyExponential) {
		return retry.Exponential(c.Retry.Count, c.Retry.InitialDelay, c.Retry.Multiplier, c.Retry.MaxDelay)
	}

	return retry.Fixed(c.Retry.Count, c.Retry.InitialDelay)
}

// MemoryOptions applies the memory settings to memory.Options.
func (c *Config) MemoryOptions() func(o *memory.Options) {
	return func(o *memory.Options) {
		o.Weights = c.weights()
		o.HalfLife = c.Memory.HalfLife
		o.ShortTermCapacity = c.Memory.ShortTermCapacity
		o.LongTermCapacity = c.Memory.LongTermCapacity
		o.Feedback = &memory.MovingAverageFeedback{
			InitialQuality: c.Memory.InitialQuality,
			LearningRate:   c.Memory.LearningRate,
			Floor:          c.Memory.Floor,
			IdleWindow:     c.Memory.IdleWindow,
			DecayRate:      c.Memory.DecayRate,
		}
	}
}

// ReflectionOptions applies the reflection, retry and graph settings.
func (c *Config) ReflectionOptions() func(o *reflection.Options) {
	return func(o *reflection.Options) {
		o.Threshold = c.Reflection.Threshold
		o.MaxIterations = c.Reflection.MaxIterations
		o.Policy = c.RetryPolicy()
		o.MaxSteps = c.Graph.MaxSteps
		o.Timeout = c.Graph.Timeout
	}
}

// PlannerOptions applies the coordinator, retry and graph settings.
func (c *Config) PlannerOptions() func(o *coordinator.Options) {
	return func(o *coordinator.Options) {
		o.Policy = c.RetryPolicy()
		o.MaxConcurrency = c.Graph.MaxConcurrency
		o.MaxSteps = c.Graph.MaxSteps
		o.Timeout = c.Graph.Timeout

		if c.Coordinator.RateLimit > 0 {
			o.Limiter = rate.NewLimiter(rate.Limit(c.Coordinator.RateLimit), max(c.Coordinator.Burst, 1))
		}
	}
}

// Logger builds the configured logger. Validate must have succeeded.
func (c *Config) Logger() *logging.GraphLogger {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LogLevelInfo
	}

	return logging.NewSlogLogger(level, c.Log.Format, false)
}
