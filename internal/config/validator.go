package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidDrivers returns the supported database drivers
func ValidDrivers() []string {
	return []string{"postgres", "sqlite"}
}

// ValidCompetitionPolicies returns the accepted engine.competition_policy values
func ValidCompetitionPolicies() []string {
	return []string{domain.RecommendProceed, domain.RecommendSkip}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Server.Addr == "" {
		errs = append(errs, ValidationError{"server.addr", c.Server.Addr, "must not be empty"})
	}

	if !slices.Contains(ValidDrivers(), c.Database.Driver) {
		errs = append(errs, ValidationError{"database.driver", c.Database.Driver, "must be one of " + strings.Join(ValidDrivers(), ", ")})
	}
	if c.Database.URL == "" && !c.Dev.AllowInMemory {
		errs = append(errs, ValidationError{"database.url", "", domain.ErrStoreUnconfigured.Error() + "; set DATABASE_URL or dev.allow_in_memory"})
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, ValidationError{"redis.pool_size", c.Redis.PoolSize, "must be at least 1"})
	}

	if u, err := url.Parse(c.Executor.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{"executor.url", c.Executor.URL, "must be an absolute URL"})
	}
	if c.Executor.TimeoutSeconds < 1 {
		errs = append(errs, ValidationError{"executor.timeout_seconds", c.Executor.TimeoutSeconds, "must be at least 1"})
	}

	if c.Knowledge.StalenessDays < 1 {
		errs = append(errs, ValidationError{"knowledge.staleness_days", c.Knowledge.StalenessDays, "must be at least 1"})
	}

	if !slices.Contains(ValidCompetitionPolicies(), c.Engine.CompetitionPolicy) {
		errs = append(errs, ValidationError{"engine.competition_policy", c.Engine.CompetitionPolicy, "must be proceed or skip"})
	}

	if c.Memory.EmbeddingDims < 16 {
		errs = append(errs, ValidationError{"memory.embedding_dims", c.Memory.EmbeddingDims, "must be at least 16"})
	}

	if c.Worker.Concurrency < 1 {
		errs = append(errs, ValidationError{"worker.concurrency", c.Worker.Concurrency, "must be at least 1"})
	}
	if c.Worker.MaxRetries < 0 {
		errs = append(errs, ValidationError{"worker.max_retries", c.Worker.MaxRetries, "must not be negative"})
	}

	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, ValidationError{"logging.level", c.Logging.Level, "must be debug, info, warn or error"})
	}
	if c.Logging.Format != logging.FormatJSON && c.Logging.Format != logging.FormatText {
		errs = append(errs, ValidationError{"logging.format", c.Logging.Format, "must be json or text"})
	}

	return errs
}
