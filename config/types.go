package config

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// Duration is a time.Duration that reads and writes as a Go duration string ("2h", "30s")
// in both YAML and TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// JSONSchema describes the string form accepted in config files.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration string such as 30s, 5m or 2h",
	}
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SessionsConfig holds the registry pruning and adoption policy.
type SessionsConfig struct {
	// AdoptThreshold is the maximum age of a dead-PID entry that is re-bound to the current process.
	AdoptThreshold Duration `yaml:"adopt_threshold,omitempty" toml:"adopt_threshold,omitempty" jsonschema:"description=Maximum age of a dead-PID entry that may be adopted (default 2h)"`
	// StaleThreshold is the age after which any entry is pruned.
	StaleThreshold Duration `yaml:"stale_threshold,omitempty" toml:"stale_threshold,omitempty" jsonschema:"description=Age after which a registry entry is always pruned (default 24h)"`
	// MissingStateGrace protects entries whose state file is still being written.
	MissingStateGrace Duration `yaml:"missing_state_grace,omitempty" toml:"missing_state_grace,omitempty"`
	// OrphanGrace protects session directories created just before registration.
	OrphanGrace Duration `yaml:"orphan_grace,omitempty" toml:"orphan_grace,omitempty"`
	// ProbeTimeout bounds a single PID liveness probe.
	ProbeTimeout Duration `yaml:"probe_timeout,omitempty" toml:"probe_timeout,omitempty"`
}

// LockConfig bounds advisory lock acquisition.
type LockConfig struct {
	Timeout       Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	StaleAfter    Duration `yaml:"stale_after,omitempty" toml:"stale_after,omitempty"`
	RetryInterval Duration `yaml:"retry_interval,omitempty" toml:"retry_interval,omitempty"`
}

// ThreadsConfig holds thread dedup, aggregation and triage policy.
type ThreadsConfig struct {
	DedupSimilarity      float64 `yaml:"dedup_similarity,omitempty" toml:"dedup_similarity,omitempty" jsonschema:"description=Cosine similarity above which a new thread is a duplicate (default 0.85)"`
	AggregateMaxSessions int     `yaml:"aggregate_max_sessions,omitempty" toml:"aggregate_max_sessions,omitempty"`
	AggregateMaxAgeDays  int     `yaml:"aggregate_max_age_days,omitempty" toml:"aggregate_max_age_days,omitempty"`
	ArchiveAfterDays     int     `yaml:"archive_after_days,omitempty" toml:"archive_after_days,omitempty"`
	HalfLifeDays         float64 `yaml:"half_life_days,omitempty" toml:"half_life_days,omitempty"`
}

// CacheConfig controls the local search cache.
type CacheConfig struct {
	MaxAge           Duration `yaml:"max_age,omitempty" toml:"max_age,omitempty"`
	SnapshotDisabled bool     `yaml:"snapshot_disabled,omitempty" toml:"snapshot_disabled,omitempty"`
}

// RemoteConfig points at the hosted source-of-truth store.
type RemoteConfig struct {
	URL            string   `yaml:"url,omitempty" toml:"url,omitempty"`
	APIKey         string   `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	Timeout        Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	Cooldown       Duration `yaml:"cooldown,omitempty" toml:"cooldown,omitempty"`
	ScarsTable     string   `yaml:"scars_table,omitempty" toml:"scars_table,omitempty"`
	ThreadsTable   string   `yaml:"threads_table,omitempty" toml:"threads_table,omitempty"`
	SessionsTable  string   `yaml:"sessions_table,omitempty" toml:"sessions_table,omitempty"`
	UsageTable     string   `yaml:"usage_table,omitempty" toml:"usage_table,omitempty"`
	SearchFunction string   `yaml:"search_function,omitempty" toml:"search_function,omitempty"`
}

// Enabled reports whether a remote store is configured at all.
func (r RemoteConfig) Enabled() bool {
	return r.URL != "" && r.APIKey != ""
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Provider is "" (disabled) or "openai" (any OpenAI-compatible endpoint).
	Provider   string `yaml:"provider,omitempty" toml:"provider,omitempty"`
	Model      string `yaml:"model,omitempty" toml:"model,omitempty"`
	APIKey     string `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty" toml:"dimensions,omitempty"`
}

// EffectsConfig sizes the effect tracker.
type EffectsConfig struct {
	History int `yaml:"history,omitempty" toml:"history,omitempty"`
}

// DiagnosticsConfig controls the optional diagnostics socket.
type DiagnosticsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	Socket  string `yaml:"socket,omitempty" toml:"socket,omitempty"`
}

// Config is the complete grove-memory configuration.
type Config struct {
	Version string `yaml:"version,omitempty" toml:"version,omitempty"`
	// Project scopes threads, cache entries and remote rows.
	Project string `yaml:"project,omitempty" toml:"project,omitempty"`
	// Agent identifies the assistant flavor recorded on sessions.
	Agent string `yaml:"agent,omitempty" toml:"agent,omitempty"`
	// Root is the memory root directory. Defaults to <project dir>/.gitmem.
	Root string `yaml:"root,omitempty" toml:"root,omitempty"`

	Sessions    SessionsConfig    `yaml:"sessions,omitempty" toml:"sessions,omitempty"`
	Lock        LockConfig        `yaml:"lock,omitempty" toml:"lock,omitempty"`
	Threads     ThreadsConfig     `yaml:"threads,omitempty" toml:"threads,omitempty"`
	Cache       CacheConfig       `yaml:"cache,omitempty" toml:"cache,omitempty"`
	Remote      RemoteConfig      `yaml:"remote,omitempty" toml:"remote,omitempty"`
	Embedding   EmbeddingConfig   `yaml:"embedding,omitempty" toml:"embedding,omitempty"`
	Effects     EffectsConfig     `yaml:"effects,omitempty" toml:"effects,omitempty"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics,omitempty" toml:"diagnostics,omitempty"`

	// Extensions captures all other top-level keys (e.g. "logging").
	Extensions map[string]interface{} `yaml:",inline" toml:"-" jsonschema:"-"`
}

// knownSections lists the top-level keys owned by Config itself.
var knownSections = map[string]bool{
	"version": true, "project": true, "agent": true, "root": true,
	"sessions": true, "lock": true, "threads": true, "cache": true,
	"remote": true, "embedding": true, "effects": true, "diagnostics": true,
}

// Default returns a Config with every default applied.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Project == "" {
		c.Project = "default"
	}
	if c.Agent == "" {
		c.Agent = "unknown"
	}

	setDuration(&c.Sessions.AdoptThreshold, 2*time.Hour)
	setDuration(&c.Sessions.StaleThreshold, 24*time.Hour)
	setDuration(&c.Sessions.MissingStateGrace, 5*time.Minute)
	setDuration(&c.Sessions.OrphanGrace, 5*time.Minute)
	setDuration(&c.Sessions.ProbeTimeout, time.Second)

	setDuration(&c.Lock.Timeout, 5*time.Second)
	setDuration(&c.Lock.StaleAfter, 30*time.Second)
	setDuration(&c.Lock.RetryInterval, 25*time.Millisecond)

	if c.Threads.DedupSimilarity == 0 {
		c.Threads.DedupSimilarity = 0.85
	}
	if c.Threads.AggregateMaxSessions == 0 {
		c.Threads.AggregateMaxSessions = 5
	}
	if c.Threads.AggregateMaxAgeDays == 0 {
		c.Threads.AggregateMaxAgeDays = 30
	}
	if c.Threads.ArchiveAfterDays == 0 {
		c.Threads.ArchiveAfterDays = 30
	}
	if c.Threads.HalfLifeDays == 0 {
		c.Threads.HalfLifeDays = 7
	}

	setDuration(&c.Cache.MaxAge, 15*time.Minute)

	setDuration(&c.Remote.Timeout, 10*time.Second)
	setDuration(&c.Remote.Cooldown, 30*time.Second)
	setString(&c.Remote.ScarsTable, "scars")
	setString(&c.Remote.ThreadsTable, "threads")
	setString(&c.Remote.SessionsTable, "sessions")
	setString(&c.Remote.UsageTable, "scar_usage")
	setString(&c.Remote.SearchFunction, "match_scars")

	if c.Embedding.Provider != "" {
		setString(&c.Embedding.Model, "text-embedding-3-small")
	}

	if c.Effects.History == 0 {
		c.Effects.History = 100
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

func setString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

// UnmarshalExtension decodes a specific extension's configuration into the
// provided target struct. The target must be a pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// It's not an error if the key doesn't exist.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
