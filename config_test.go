package streamz

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSettings_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamz.yaml")
	raw := "workers: 3\ncache-budget: 1MB\ncheckpoint-interval: 5s\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Workers != 3 {
		t.Errorf("workers: got %d", s.Workers)
	}
	budget, err := s.CacheBudgetBytes()
	if err != nil || budget != 1<<20 {
		t.Errorf("cache budget: got %d, %v", budget, err)
	}
	interval, err := s.CheckpointIntervalDuration()
	if err != nil || interval != 5*time.Second {
		t.Errorf("interval: got %v, %v", interval, err)
	}
	// Untouched fields keep their defaults.
	if s.LinkCapacity != defaultLinkCapacity {
		t.Errorf("link capacity default: got %d", s.LinkCapacity)
	}
	if s.BatchLimit != defaultBatchLimit {
		t.Errorf("batch limit default: got %d", s.BatchLimit)
	}
}

func TestLoadSettings_BadBudgetRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamz.yaml")
	if err := os.WriteFile(path, []byte("cache-budget: lots\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadSettings(path)
	if err == nil {
		t.Fatal("expected parse failure")
	}
	if CodeOf(err) != CodeConfiguration {
		t.Errorf("code: got %s", CodeOf(err))
	}
}

func TestNewExecutorFromSettings(t *testing.T) {
	s := DefaultSettings()
	s.Workers = 2
	x, err := NewExecutorFromSettings(s)
	if err != nil {
		t.Fatal(err)
	}
	if cap(x.workers) != 2 {
		t.Errorf("worker slots: got %d", cap(x.workers))
	}
}
