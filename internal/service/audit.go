package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/controlforge/controlforge/internal/config"
	"github.com/controlforge/controlforge/internal/model"
	"github.com/controlforge/controlforge/internal/telemetry"
)

// AuditService records authenticated state-changing operations. Writes are
// asynchronous and best-effort: a failed write increments a metric and is
// otherwise swallowed, so audit persistence can never fail a request.
type AuditService struct {
	store  *config.Store
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAuditService creates an AuditService backed by the given store.
func NewAuditService(store *config.Store, logger *slog.Logger) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{store: store, logger: logger}
}

// Record emits an audit event attributed to the given principal. It returns
// immediately; the write happens on its own goroutine.
func (a *AuditService) Record(p *Principal, action, targetType, targetID string, meta map[string]any) {
	if p == nil {
		return
	}
	ev := &model.AuditEvent{
		ID:         uuid.NewString(),
		OrgID:      p.OrgID,
		ActorID:    p.UserID,
		ActorEmail: p.Email,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   meta,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.InsertAuditEvent(ctx, ev); err != nil {
			telemetry.AuditWriteFailures.Inc()
			a.logger.Debug("audit write failed", "action", action, "error", err)
		}
	}()
}

// Wait blocks until all in-flight audit writes have finished. Used during
// shutdown and by tests.
func (a *AuditService) Wait() {
	a.wg.Wait()
}
