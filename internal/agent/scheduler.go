package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/observability"
)

type Messenger interface {
	Send(chatID string, text string) error
}

// Scheduler runs the periodic housekeeping of a serving pilot: heartbeat
// and expiry of unanswered confirmations.
type Scheduler struct {
	Pilot    *Pilot
	Gateway  Messenger
	Events   *observability.EventLog
	Interval time.Duration
	logger   *zap.Logger
}

func NewScheduler(pilot *Pilot, gateway Messenger, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		Pilot:    pilot,
		Gateway:  gateway,
		Interval: 30 * time.Second,
		logger:   logger.Named("scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started", zap.Duration("interval", s.Interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	observability.Heartbeat()
	if s.Events != nil {
		s.Events.LogHeartbeat()
	}

	for _, chatID := range s.Pilot.ExpirePending() {
		s.logger.Info("Confirmation expired", zap.String("chat_id", chatID))
		if s.Gateway == nil {
			continue
		}
		if err := s.Gateway.Send(chatID, "Confirmation timed out. The plan was discarded; send the instruction again to retry."); err != nil {
			s.logger.Warn("Failed to notify chat", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}
