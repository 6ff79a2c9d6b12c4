/*
sweeper.go - Background sweep for overdue exemption windows

PURPOSE:
  A timer that was armed can be lost: the process may be suspended,
  killed, or the window may have been restored from persistence with a
  deadline already near. The sweeper periodically asks the manager for
  each child's active window; the manager lazily evicts any window
  whose deadline has passed and fires its callback. The sweep is a
  safety net behind the per-window timers, not the primary mechanism.

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 30 seconds)
  - Enabled: Whether the sweeper runs (default: true)

USAGE:
  sweeper := NewExpirySweeper(exemptions, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - economy/exemption.go: ActiveWindow's lazy eviction
*/
package api

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/points-engine/economy"
)

// ExpirySweeper periodically evicts overdue windows.
type ExpirySweeper struct {
	Exemptions    *economy.ExemptionManager
	CheckInterval time.Duration
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewExpirySweeper(exemptions *economy.ExemptionManager, log zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		Exemptions:    exemptions,
		CheckInterval: 30 * time.Second,
		Enabled:       true,
		log:           log.With().Str("component", "sweeper").Logger(),
		stop:          make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("sweeper disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()
	s.log.Info().Dur("interval", s.CheckInterval).Msg("sweeper started")
}

// Stop halts the sweep loop.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info().Msg("sweeper stopped")
	}
}

func (s *ExpirySweeper) run() {
	defer s.wg.Done()

	s.sweep()
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// sweep touches every child's window; ActiveWindow evicts and fires
// expiry for any that are overdue.
func (s *ExpirySweeper) sweep() {
	for _, child := range s.Exemptions.ActiveChildren() {
		s.Exemptions.ActiveWindow(child)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *ExpirySweeper) RunNow() { s.sweep() }
