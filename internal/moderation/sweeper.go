package moderation

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"agora/api/internal/log"
)

const DefaultSweepSchedule = "@every 5m"

// Sweeper periodically logs the size of the pending report queue.
type Sweeper struct {
	service *Service
	cron    *cron.Cron
}

func NewSweeper(service *Service, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{service: service, cron: cron.New()}
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Sweep() {
	pending, err := s.service.PendingCount(context.Background())
	if err != nil {
		log.L.Error("moderation sweep", zap.Error(err))
		return
	}
	if pending > 0 {
		log.L.Info("moderation queue", zap.Int("pending", pending))
	}
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep, or ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
