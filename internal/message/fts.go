// Package message - failed-to-send retry queue.
//
// The fts index holds message ids awaiting peer liveness. A single
// scheduler drains it on a ticker and terminates when the index is
// clear; producers restart it idempotently.
package message

import (
	"context"
	"errors"
	"time"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/pkg/helpers"
)

// sendToRetry stages a message id for async retry and (re)starts the
// scheduler. Duplicate ids are never added.
func (s *Service) sendToRetry(ctx context.Context, mid string) {
	s.log.Info("sending to fts", "mid", helpers.ShortID(mid))
	if err := s.db.IndexAppend(models.FtsDBKey, mid); err != nil {
		s.log.Error("failed to stage fts entry", "error", err)
		return
	}
	s.StartRetry(ctx)
}

// removeFromFts clears a message id from the retry queue.
func (s *Service) removeFromFts(mid string) error {
	return s.db.IndexRemove(models.FtsDBKey, mid)
}

// RetryRunning reports whether the retry task is active.
func (s *Service) RetryRunning() bool {
	return s.ftsRunning.Load()
}

// StartRetry launches the retry task unless one is already running.
// Restart after self-termination is the producer's responsibility and
// this compare-and-swap makes double-spawn impossible.
func (s *Service) StartRetry(ctx context.Context) {
	if !s.ftsRunning.CompareAndSwap(false, true) {
		return
	}
	go s.retryLoop(ctx)
}

// ClearFts drops the whole retry queue. Used by the --clear-fts startup
// flag.
func (s *Service) ClearFts() error {
	err := s.db.Delete(models.FtsDBKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// retryLoop wakes every FTSRetryInterval, resending queue members with
// their peer's cached JWP. When the index is clear it is deleted and the
// task exits.
func (s *Service) retryLoop(ctx context.Context) {
	defer s.ftsRunning.Store(false)

	ticker := time.NewTicker(config.FTSRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.log.Debug("running retry failed-to-send task")

		clear, err := s.db.IndexIsClear(models.FtsDBKey)
		if err != nil {
			s.log.Error("failed to read fts index", "error", err)
			return
		}
		if clear {
			s.log.Info("terminating retry fts task")
			if err := s.db.Delete(models.FtsDBKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
				s.log.Error("failed to drop fts index", "error", err)
			}
			return
		}

		members, err := s.db.IndexMembers(models.FtsDBKey)
		if err != nil {
			s.log.Error("failed to read fts index", "error", err)
			return
		}
		for _, mid := range members {
			m, err := s.Find(mid)
			if err != nil || m.MID == "" {
				continue
			}
			jwp, err := s.proofs.CachedJwp(m.To)
			if err != nil || jwp == "" {
				s.log.Error("no jwp found for fts id", "mid", helpers.ShortID(mid))
				continue
			}
			s.SendMessage(ctx, &m, jwp, messageType(mid))
		}
	}
}
