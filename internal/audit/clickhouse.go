package audit

import (
	"context"
	"sync"
	"time"

	"authcore/internal/client"
	"authcore/internal/model"
	"authcore/internal/util"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBatchSize     = 500
	bufferCapacity       = 4096
)

// ClickHouseRecorder buffers events in memory and batch-inserts them into
// the security_events table. When the buffer is full events are dropped
// with a log line rather than blocking the authentication path.
type ClickHouseRecorder struct {
	client *client.ClickHouseClient
	table  string

	events chan model.SecurityEvent

	closeOnce sync.Once
	done      chan struct{}
	flushed   chan struct{}
}

func NewClickHouseRecorder(ch *client.ClickHouseClient, table string) *ClickHouseRecorder {
	if table == "" {
		table = "security_events"
	}
	r := &ClickHouseRecorder{
		client:  ch,
		table:   table,
		events:  make(chan model.SecurityEvent, bufferCapacity),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

var _ Recorder = (*ClickHouseRecorder)(nil)

// Record enqueues the event. Never blocks.
func (r *ClickHouseRecorder) Record(ctx context.Context, event model.SecurityEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	select {
	case r.events <- event:
	default:
		util.Warn("Audit buffer full, dropping event",
			util.String("event_type", event.EventType))
	}
}

// Close drains the buffer and stops the flush loop.
func (r *ClickHouseRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		<-r.flushed
	})
}

func (r *ClickHouseRecorder) flushLoop() {
	defer close(r.flushed)

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	batch := make([]model.SecurityEvent, 0, defaultBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.insert(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			// Drain whatever is still queued
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *ClickHouseRecorder) insert(batch []model.SecurityEvent) {
	rows := make([][]interface{}, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, []interface{}{
			e.EventType, e.Email, e.ClientID, e.SessionID, e.RemoteAddr, e.CreatedAt,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := "INSERT INTO " + r.table +
		" (event_type, email, client_id, session_id, remote_addr, created_at)"
	if err := r.client.BatchInsert(ctx, query, rows); err != nil {
		util.Error("Failed to flush audit batch",
			util.Int("events", len(batch)),
			util.ErrorField(err))
		return
	}
	util.Debug("Audit batch flushed", util.Int("events", len(batch)))
}
