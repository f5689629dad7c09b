package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sweeper periodically expires every table of a Store in the background.
// Each run expires all tables concurrently via errgroup, since ExpireTable
// on distinct tables touches disjoint directories and has nothing to
// coordinate over.
type Sweeper struct {
	Store    Store
	Tables   []string
	Interval time.Duration
	Log      *zap.Logger
}

// NewSweeper builds a Sweeper over the given tables.
func NewSweeper(store Store, tables []string, interval time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{Store: store, Tables: tables, Interval: interval, Log: log}
}

// Run sweeps on a timer until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.Log.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce runs ExpireTable on every configured table concurrently,
// returning the first error encountered (others are logged).
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := time.Now()
	g, _ := errgroup.WithContext(ctx)
	for _, table := range s.Tables {
		table := table
		g.Go(func() error {
			if err := s.Store.ExpireTable(table, now); err != nil {
				s.Log.Warn("expire table failed", zap.String("table", table), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
