package usage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/llmur/llmur/internal/models"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RetentionScheduler deletes request logs older than the retention window on a cron schedule.
type RetentionScheduler struct {
	db            *gorm.DB
	retentionDays int
	schedule      string
	nowFn         func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRetentionScheduler constructs a scheduler. retentionDays <= 0 disables pruning.
func NewRetentionScheduler(db *gorm.DB, retentionDays int, schedule string) *RetentionScheduler {
	return &RetentionScheduler{
		db:            db,
		retentionDays: retentionDays,
		schedule:      strings.TrimSpace(schedule),
		nowFn:         time.Now,
		cron:          cron.New(),
	}
}

// Start registers the prune job and stops it when ctx is done.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retentionDays <= 0 || s.schedule == "" {
		log.Info("request log retention disabled")
		return nil
	}
	if _, errParse := cron.ParseStandard(s.schedule); errParse != nil {
		return fmt.Errorf("usage: invalid prune schedule %q: %w", s.schedule, errParse)
	}
	if _, errAdd := s.cron.AddFunc(s.schedule, func() {
		deleted, errPrune := s.Prune(ctx)
		if errPrune != nil {
			log.WithError(errPrune).Warn("usage: request log pruning failed")
			return
		}
		log.Infof("usage: pruned %d request logs", deleted)
	}); errAdd != nil {
		return fmt.Errorf("usage: schedule pruning: %w", errAdd)
	}
	s.cron.Start()
	s.running = true
	log.Infof("request log retention started (schedule=%q, retention_days=%d)", s.schedule, s.retentionDays)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (s *RetentionScheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// Prune deletes logs created before the retention window and returns how many were removed.
func (s *RetentionScheduler) Prune(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil || s.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.nowFn().UTC().AddDate(0, 0, -s.retentionDays)
	qctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	res := s.db.WithContext(qctx).Where("created_at < ?", cutoff).Delete(&models.RequestLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("usage: prune request logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
