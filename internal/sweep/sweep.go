// Package sweep removes stale session artifacts from the scratch directory.
// A crashed or killed run can leave its temp log and expect script behind;
// the sweeper reclaims them on a cron schedule.
package sweep

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically deletes leftover salvage-* artifacts older than MaxAge.
type Sweeper struct {
	dir      string
	maxAge   time.Duration
	schedule cron.Schedule

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a sweeper over dir. cronExpr uses the standard five-field
// format and controls when sweeps run.
func New(dir, cronExpr string, maxAge time.Duration) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", cronExpr, err)
	}
	return &Sweeper{dir: dir, maxAge: maxAge, schedule: schedule}, nil
}

// Start starts the sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Stop stops the loop and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Sweeper) run() {
	for {
		timer := time.NewTimer(time.Until(s.schedule.Next(time.Now())))
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if n := s.Sweep(); n > 0 {
					log.Printf("sweep: removed %d stale artifacts from %s", n, s.dir)
				}
			}()
		}
	}
}

// Sweep runs one pass and reports how many artifacts were removed. Only
// salvage-*.log and salvage-*.exp files past the age cutoff are touched, so
// an active session's artifacts and unrelated temp files are never at risk.
func (s *Sweeper) Sweep() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("sweep: read %s: %v", s.dir, err)
		return 0
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isArtifact(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			log.Printf("sweep: remove %s: %v", name, err)
			continue
		}
		removed++
	}
	return removed
}

func isArtifact(name string) bool {
	if !strings.HasPrefix(name, "salvage-") {
		return false
	}
	return strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".exp")
}
