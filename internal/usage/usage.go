// Package usage persists request logs off the request path and accounts token usage.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/llmur/llmur/internal/metrics"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/ratelimit"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// dbTimeout bounds each persistence call.
const dbTimeout = 5 * time.Second

// TokenAccountant adds consumed tokens to token-limit counters.
type TokenAccountant interface {
	Add(ctx context.Context, limits []ratelimit.ScopeLimit, amount int64) error
}

// Record is one finished request.
type Record struct {
	Log models.RequestLog
	// TokenLimits are the token counters charged with Log.TotalTokens.
	TokenLimits []ratelimit.ScopeLimit
}

// Recorder writes request logs from a single worker goroutine.
// Emit never blocks; records are dropped with a warning when the buffer is full.
type Recorder struct {
	db     *gorm.DB
	tokens TokenAccountant
	queue  chan Record

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder constructs a Recorder with room for bufferSize pending records.
func NewRecorder(db *gorm.DB, tokens TokenAccountant, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Recorder{
		db:     db,
		tokens: tokens,
		queue:  make(chan Record, bufferSize),
		done:   make(chan struct{}),
	}
}

// Start launches the worker. It drains the queue and exits when ctx is done.
func (r *Recorder) Start(ctx context.Context) {
	if r == nil {
		return
	}
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

// Emit queues rec. Token usage is charged even when the log itself is dropped.
func (r *Recorder) Emit(rec Record) bool {
	if r == nil {
		return false
	}
	select {
	case r.queue <- rec:
		return true
	default:
	}
	metrics.RequestLogDroppedTotal.Inc()
	log.WithFields(log.Fields{
		"deployment": rec.Log.DeploymentName,
		"status":     rec.Log.HTTPStatusCode,
	}).Warn("usage: request log buffer full, dropping record")
	r.chargeTokens(rec)
	return false
}

// Wait blocks until the worker has drained the queue after its context ended.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	<-r.done
}

func (r *Recorder) run(ctx context.Context) {
	defer r.closeOnce.Do(func() { close(r.done) })
	for {
		select {
		case rec := <-r.queue:
			r.handle(rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-r.queue:
					r.handle(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) handle(rec Record) {
	r.chargeTokens(rec)
	r.persist(rec.Log)
}

func (r *Recorder) chargeTokens(rec Record) {
	if r.tokens == nil || rec.Log.TotalTokens <= 0 || len(rec.TokenLimits) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if errAdd := r.tokens.Add(ctx, rec.TokenLimits, rec.Log.TotalTokens); errAdd != nil {
		log.WithError(errAdd).Warn("usage: failed to account token usage")
	}
}

func (r *Recorder) persist(row models.RequestLog) {
	if r.db == nil {
		return
	}
	if row.RespondedAt.IsZero() {
		row.RespondedAt = time.Now().UTC()
	}
	if row.TotalTokens == 0 {
		row.TotalTokens = row.InputTokens + row.OutputTokens
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("usage: failed to persist request log")
	}
}
