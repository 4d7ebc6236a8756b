package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"collateral-backend/internal/models"
	"collateral-backend/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DomainEvent a committed state change fanned out to subscribers
type DomainEvent struct {
	ID      string                 `json:"id"`
	Kind    string                 `json:"kind"`
	Actor   string                 `json:"actor"`
	Subject string                 `json:"subject"`
	Payload map[string]interface{} `json:"payload"`
	At      time.Time              `json:"at"`
}

// Tx one serialized unit of work. Every read and write inside it goes through Repos.
type Tx struct {
	DB    *gorm.DB
	Repos repository.Repositories

	now         func() time.Time
	events      []DomainEvent
	afterCommit []func()
}

// Record appends an audit row inside the transaction and queues the event for fan-out after commit
func (t *Tx) Record(ctx context.Context, kind, actor, subject string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event payload: %w", kind, err)
	}
	ev := DomainEvent{
		ID:      uuid.New().String(),
		Kind:    kind,
		Actor:   actor,
		Subject: subject,
		Payload: payload,
		At:      t.now(),
	}
	if err := t.Repos.Audit.Append(ctx, &models.AuditEvent{
		ID:        ev.ID,
		Kind:      kind,
		Actor:     actor,
		Subject:   subject,
		Payload:   string(data),
		CreatedAt: ev.At,
	}); err != nil {
		return fmt.Errorf("failed to append %s audit event: %w", kind, err)
	}
	t.events = append(t.events, ev)
	return nil
}

// AfterCommit schedules fn to run once the transaction has committed and the writer lock is released
func (t *Tx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// EventSink receives committed domain events
type EventSink interface {
	PublishDomainEvent(ev DomainEvent)
}

// TxManager serializes every mutation: one writer at a time, each inside a database transaction
type TxManager struct {
	mu    sync.Mutex
	db    *gorm.DB
	repos repository.Repositories
	now   func() time.Time

	sinkMu sync.RWMutex
	sinks  []EventSink
}

// NewTxManager creates a TxManager over db
func NewTxManager(db *gorm.DB, repos repository.Repositories) *TxManager {
	return &TxManager{db: db, repos: repos, now: time.Now}
}

// SetClock overrides the clock used for event timestamps
func (m *TxManager) SetClock(now func() time.Time) {
	m.now = now
}

// AddSink registers a subscriber for committed events
func (m *TxManager) AddSink(sink EventSink) {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Repos returns repositories bound to the base connection, for reads outside a unit of work
func (m *TxManager) Repos() repository.Repositories {
	return m.repos
}

// Do runs fn as one atomic unit. fn must not call Do again.
func (m *TxManager) Do(ctx context.Context, fn func(tx *Tx) error) error {
	var committed *Tx

	m.mu.Lock()
	err := m.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		tx := &Tx{DB: gtx, Repos: m.repos.WithTx(gtx), now: m.now}
		if err := fn(tx); err != nil {
			return err
		}
		committed = tx
		return nil
	})
	m.mu.Unlock()

	if err != nil {
		return err
	}

	m.sinkMu.RLock()
	sinks := m.sinks
	m.sinkMu.RUnlock()
	for _, ev := range committed.events {
		for _, sink := range sinks {
			sink.PublishDomainEvent(ev)
		}
	}
	for _, fn := range committed.afterCommit {
		fn()
	}
	return nil
}
