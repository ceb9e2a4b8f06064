package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fetmsg/internal/auth"
	intsync "fetmsg/internal/sync"
)

// Scheduler periodically refreshes the conversation list while a valid
// token is held. It is the daemon's only self-initiated traffic; message
// pages are fetched on demand by callers.
type Scheduler struct {
	interval time.Duration
	engine   *intsync.Engine
	auth     *auth.Session
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler firing every intervalSeconds.
func NewScheduler(intervalSeconds int, engine *intsync.Engine, session *auth.Session, logger *zap.Logger) *Scheduler {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	return &Scheduler{
		interval: time.Duration(intervalSeconds) * time.Second,
		engine:   engine,
		auth:     session,
		logger:   logger,
	}
}

// Start launches the periodic loop. An immediate first pass runs before
// the ticker takes over.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.auth.IsAuthorized() {
		return
	}
	if err := s.engine.SyncConversations(ctx); err != nil {
		if errors.Is(err, intsync.ErrSessionClosed) || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("scheduled sync failed", zap.Error(err))
	}
}
