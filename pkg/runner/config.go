// Package runner implements the Runner supervisor: it partitions configured
// replication slots into worker groups, runs each slot with retry/backoff,
// emits a periodic liveness ping, and shuts down in an orderly way on
// SIGINT/SIGTERM.
//
// Its shape is grounded on the teacher's cmd/pgo/pipeline.go goroutine-per-peer
// fan-out and signal.Notify(SIGINT, SIGTERM) pattern, and its retry loop on
// pkg/httputil/client.go's cenkalti/backoff/v4 usage.
package runner

import "time"

// Config is the top-level `slots:` YAML document (spec §4.7/§6).
type Config struct {
	Slots map[string]SlotConfig `mapstructure:"slots"`
}

// SlotConfig configures one replication slot and the worker group it runs in.
type SlotConfig struct {
	// Watcher names a Watcher registered in the Runner's WatcherRegistry.
	Watcher string `mapstructure:"watcher"`
	// Publications lists the publication names this slot subscribes to.
	Publications []string `mapstructure:"publications"`
	// Temporary marks the slot as CREATE_REPLICATION_SLOT ... TEMPORARY;
	// when true a random suffix is appended to the slot name (§4.7).
	Temporary bool `mapstructure:"temporary"`
	// Replicator optionally names an alternative Replicator implementation
	// registered in the Runner's ReplicatorRegistry; empty uses the default.
	Replicator string `mapstructure:"replicator"`
	// ReplicatorParams is decoded (via mapstructure, per §2) into the chosen
	// Replicator's own Config type.
	ReplicatorParams map[string]any `mapstructure:"replicator_params"`
	// Worker is the group this slot is partitioned into; slots sharing a
	// group run in the same process. Defaults to "default".
	Worker string `mapstructure:"worker"`
	// AutoRestart restarts the slot with backoff after a clean return, not
	// just after an error. Defaults to true.
	AutoRestart *bool `mapstructure:"auto_restart"`
	// Retries bounds retry attempts on transient failure. Nil or negative
	// means effectively unbounded, per spec's "default effectively unbounded".
	Retries *int `mapstructure:"retries"`
	// RetryBackoff is the base backoff duration in seconds.
	RetryBackoff float64 `mapstructure:"retry_backoff"`
	// RetryBackoffExponent raises the backoff to attempt^exponent; zero or
	// unset means no exponent, so every retry waits the base backoff.
	RetryBackoffExponent float64 `mapstructure:"retry_backoff_exponent"`
}

func (s SlotConfig) workerGroup() string {
	if s.Worker == "" {
		return "default"
	}
	return s.Worker
}

func (s SlotConfig) autoRestart() bool {
	if s.AutoRestart == nil {
		return true
	}
	return *s.AutoRestart
}

// maxRetries returns the configured bound, or -1 for unbounded.
func (s SlotConfig) maxRetries() int {
	if s.Retries == nil || *s.Retries < 0 {
		return -1
	}
	return *s.Retries
}

func (s SlotConfig) backoffBase() time.Duration {
	if s.RetryBackoff <= 0 {
		return time.Second
	}
	return time.Duration(s.RetryBackoff * float64(time.Second))
}

func (s SlotConfig) backoffExponent() float64 {
	if s.RetryBackoffExponent <= 0 {
		return 0
	}
	return s.RetryBackoffExponent
}

// groups partitions slot names by worker group. Neither the groups nor the
// slot names within a group are returned in any defined order.
func (c Config) groups() map[string][]string {
	out := make(map[string][]string)
	for name, slot := range c.Slots {
		g := slot.workerGroup()
		out[g] = append(out[g], name)
	}
	return out
}
