package sqlite

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically deletes expired rows so the kv table does not grow
// without bound. Reads already ignore expired rows; sweeping only reclaims
// space.
type Sweeper struct {
	db       *DB
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
	wg       sync.WaitGroup
	start    sync.Once
	stop     sync.Once
}

// NewSweeper creates a sweeper for db. Call Start to begin sweeping.
func NewSweeper(db *DB, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		db:       db,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Calling it more than once is a no-op.
func (s *Sweeper) Start() {
	s.start.Do(func() {
		s.logger.Info("starting sqlite expiry sweeper", slog.Duration("interval", s.interval))
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stop.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := s.db.Sweep(ctx)
	if err != nil {
		s.logger.Error("sqlite sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Debug("swept expired keys", slog.Int64("count", n))
	}
}
