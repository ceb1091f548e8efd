// Package clean removes or quarantines local files not accounted for by the
// current run's action map. The sweeper runs concurrently with the action
// executor against the same directory; safety comes from the name sets being
// fixed before either starts, not from locking.
package clean

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"attachment-sync/pkg/utils"
)

// ErrAlreadyStarted is returned when Run is invoked more than once on the
// same handle. A sweeper is one-shot; build a new one for a new run.
var ErrAlreadyStarted = errors.New("sweeper already started")

// RunState is the sweeper lifecycle: NotStarted → Running → Completed.
type RunState int32

const (
	StateNotStarted RunState = iota
	StateRunning
	StateCompleted
)

func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// Config is the sweeper's immutable input, fixed for the lifetime of the
// task. AccountedNames is the union of the run's keep and delete sets;
// NoneNames are quarantined regardless of the destructive policy, since they
// represent suspicious but possibly recoverable state.
type Config struct {
	ImageDir       string
	RemovedDir     string
	AccountedNames map[string]struct{}
	NoneNames      map[string]struct{}
	Destructive    bool
}

// Report is the sweeper's final tally.
type Report struct {
	Scanned     int
	Removed     int
	Quarantined int
	Errored     int
}

// Sweeper is the handle returned by New: it exposes progress while running
// and the report afterwards.
type Sweeper struct {
	cfg Config
	log *logrus.Entry

	state     atomic.Int32
	processed atomic.Int64
	total     atomic.Int64

	mu     sync.Mutex
	report Report
}

// New creates a sweeper over the given immutable configuration.
func New(cfg Config, log *logrus.Entry) *Sweeper {
	return &Sweeper{cfg: cfg, log: log}
}

// State returns the current lifecycle state.
func (s *Sweeper) State() RunState {
	return RunState(s.state.Load())
}

// Progress returns processed and total entry counts. Total is zero until the
// directory has been enumerated.
func (s *Sweeper) Progress() (processed, total int64) {
	return s.processed.Load(), s.total.Load()
}

// Report returns the final counts. Valid once State is Completed.
func (s *Sweeper) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Run enumerates the image directory once and applies the policy to every
// file not accounted for by the run. One-shot: a second call fails.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	defer s.state.Store(int32(StateCompleted))

	entries, err := os.ReadDir(s.cfg.ImageDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debugf("Image directory '%s' does not exist, nothing to sweep", s.cfg.ImageDir)
			return nil
		}
		return fmt.Errorf("%w: reading image directory '%s': %w", utils.ErrFilesystem, s.cfg.ImageDir, err)
	}
	s.total.Store(int64(len(entries)))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.processed.Add(1)

		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		if strings.HasSuffix(name, ".part") {
			// In-flight executor scratch file. A stale one from a crashed
			// run gets truncated and renamed by the next download anyway.
			continue
		}

		if _, accounted := s.cfg.AccountedNames[name]; accounted {
			// Owned by the executor: a current keep target (possibly created
			// during this very run) or a pending delete.
			continue
		}

		_, isNone := s.cfg.NoneNames[name]
		s.sweepFile(name, isNone)
	}

	s.mu.Lock()
	report := s.report
	s.mu.Unlock()
	s.log.Infof("Sweep of '%s' complete: %d scanned, %d removed, %d quarantined, %d errors",
		s.cfg.ImageDir, report.Scanned, report.Removed, report.Quarantined, report.Errored)
	return nil
}

// sweepFile applies the policy to one unaccounted file. Files in the none
// set are always quarantined.
func (s *Sweeper) sweepFile(name string, isNone bool) {
	path := filepath.Join(s.cfg.ImageDir, name)

	s.mu.Lock()
	s.report.Scanned++
	s.mu.Unlock()

	if s.cfg.Destructive && !isNone {
		if err := os.Remove(path); err != nil {
			s.log.Errorf("Cannot remove orphan '%s': %v", path, err)
			s.countError()
			return
		}
		s.mu.Lock()
		s.report.Removed++
		s.mu.Unlock()
		s.log.Infof("Removed orphan '%s'", name)
		return
	}

	if err := os.MkdirAll(s.cfg.RemovedDir, 0755); err != nil {
		s.log.Errorf("Cannot create quarantine directory '%s': %v", s.cfg.RemovedDir, err)
		s.countError()
		return
	}
	dest := filepath.Join(s.cfg.RemovedDir, name)
	if err := os.Rename(path, dest); err != nil {
		s.log.Errorf("Cannot quarantine orphan '%s': %v", path, err)
		s.countError()
		return
	}
	s.mu.Lock()
	s.report.Quarantined++
	s.mu.Unlock()
	if isNone {
		s.log.Infof("Quarantined unmatched file '%s'", name)
	} else {
		s.log.Infof("Quarantined orphan '%s'", name)
	}
}

func (s *Sweeper) countError() {
	s.mu.Lock()
	s.report.Errored++
	s.mu.Unlock()
}
