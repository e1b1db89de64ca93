package config

import (
	"fmt"

	"github.com/grovetools/memory/errors"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateSessions(&c.Sessions); err != nil {
		return err
	}

	if c.Lock.Timeout <= 0 || c.Lock.RetryInterval <= 0 || c.Lock.StaleAfter <= 0 {
		return errors.ConfigInvalid("lock timeout, stale_after and retry_interval must be positive")
	}
	if c.Lock.RetryInterval >= c.Lock.Timeout {
		return errors.ConfigInvalid("lock.retry_interval must be shorter than lock.timeout")
	}

	if err := validateThreads(&c.Threads); err != nil {
		return err
	}

	if c.Cache.MaxAge <= 0 {
		return errors.ConfigInvalid("cache.max_age must be positive")
	}

	if (c.Remote.URL == "") != (c.Remote.APIKey == "") {
		return errors.ConfigInvalid("remote.url and remote.api_key must be set together").
			WithDetail("url_set", c.Remote.URL != "")
	}

	switch c.Embedding.Provider {
	case "", "openai":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown embedding provider '%s'", c.Embedding.Provider)).
			WithDetail("provider", c.Embedding.Provider)
	}

	if c.Effects.History < 1 {
		return errors.ConfigInvalid("effects.history must be at least 1")
	}

	return nil
}

func validateSessions(s *SessionsConfig) error {
	if s.AdoptThreshold <= 0 || s.StaleThreshold <= 0 {
		return errors.ConfigInvalid("sessions thresholds must be positive")
	}
	if s.AdoptThreshold >= s.StaleThreshold {
		return errors.ConfigInvalid("sessions.adopt_threshold must be shorter than sessions.stale_threshold").
			WithDetail("adopt_threshold", s.AdoptThreshold.Std().String()).
			WithDetail("stale_threshold", s.StaleThreshold.Std().String())
	}
	if s.MissingStateGrace < 0 || s.OrphanGrace < 0 {
		return errors.ConfigInvalid("sessions grace periods cannot be negative")
	}
	return nil
}

func validateThreads(t *ThreadsConfig) error {
	if t.DedupSimilarity <= 0 || t.DedupSimilarity > 1 {
		return errors.ConfigInvalid("threads.dedup_similarity must be in (0, 1]").
			WithDetail("dedup_similarity", t.DedupSimilarity)
	}
	if t.AggregateMaxSessions < 1 || t.AggregateMaxAgeDays < 1 {
		return errors.ConfigInvalid("threads aggregation bounds must be at least 1")
	}
	if t.ArchiveAfterDays < 1 || t.HalfLifeDays <= 0 {
		return errors.ConfigInvalid("threads triage windows must be positive")
	}
	return nil
}
