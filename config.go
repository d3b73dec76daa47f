package streamz

import (
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"sigs.k8s.io/yaml"
)

// Settings is the engine's tunable surface, loadable from YAML. Durations
// are strings in Go syntax ("30s", "5m"); sizes accept unit suffixes
// ("512MB"). Zero values fall back to the defaults, so partial files are
// fine.
type Settings struct {
	// Workers bounds how many pipelines run concurrently.
	Workers int `json:"workers"`
	// LinkCapacity bounds per-link buffering in elements.
	LinkCapacity int `json:"link-capacity"`
	// GracePeriod is how long shutdown waits for operators to drain.
	GracePeriod string `json:"grace-period"`
	// BatchLimit is the default row limit of the batch operator.
	BatchLimit int `json:"batch-limit"`
	// CheckpointInterval is how often barriers are injected.
	CheckpointInterval string `json:"checkpoint-interval"`
	// CheckpointKeep is how many older checkpoints survive pruning.
	CheckpointKeep int `json:"checkpoint-keep"`
	// StateDir roots the durable checkpoint store.
	StateDir string `json:"state-dir"`
	// CacheBudget bounds the shared in-memory cache.
	CacheBudget string `json:"cache-budget"`
	// AllowUnsafePipelines gates operators that escape the sandbox.
	AllowUnsafePipelines bool `json:"allow-unsafe-pipelines"`
}

// DefaultSettings returns the engine defaults.
func DefaultSettings() Settings {
	return Settings{
		LinkCapacity:       defaultLinkCapacity,
		GracePeriod:        defaultGracePeriod.String(),
		BatchLimit:         defaultBatchLimit,
		CheckpointInterval: "30s",
		CheckpointKeep:     1,
		StateDir:           "state",
		CacheBudget:        "256MB",
	}
}

// LoadSettings reads settings from a YAML file, filling gaps with the
// defaults and validating the parseable fields.
func LoadSettings(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, WrapError(CodeIO, "settings", err)
	}
	s := DefaultSettings()
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, WrapError(CodeConfiguration, "settings", err)
	}
	if _, err := s.CacheBudgetBytes(); err != nil {
		return Settings{}, err
	}
	if _, err := s.GracePeriodDuration(); err != nil {
		return Settings{}, err
	}
	if _, err := s.CheckpointIntervalDuration(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// CacheBudgetBytes parses the cache budget into bytes.
func (s Settings) CacheBudgetBytes() (uint64, error) {
	if s.CacheBudget == "" {
		return 0, nil
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(s.CacheBudget)); err != nil {
		return 0, WrapError(CodeConfiguration, "settings", err)
	}
	return size.Bytes(), nil
}

// GracePeriodDuration parses the shutdown grace period.
func (s Settings) GracePeriodDuration() (time.Duration, error) {
	return parseDuration(s.GracePeriod, defaultGracePeriod)
}

// CheckpointIntervalDuration parses the barrier injection interval.
func (s Settings) CheckpointIntervalDuration() (time.Duration, error) {
	return parseDuration(s.CheckpointInterval, 30*time.Second)
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, WrapError(CodeConfiguration, "settings", err)
	}
	return d, nil
}

// NewExecutorFromSettings builds an executor configured per the settings.
func NewExecutorFromSettings(s Settings) (*Executor, error) {
	grace, err := s.GracePeriodDuration()
	if err != nil {
		return nil, err
	}
	x := NewExecutor()
	if s.Workers > 0 {
		x = x.WithWorkers(s.Workers)
	}
	if s.LinkCapacity > 0 {
		x = x.WithLinkCapacity(s.LinkCapacity)
	}
	return x.WithGracePeriod(grace).WithAllowUnsafe(s.AllowUnsafePipelines), nil
}
