package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ArchiveStore persists an audit batch blob and returns its content hash.
type ArchiveStore interface {
	Store(ctx context.Context, data []byte) (string, error)
}

// Exporter buffers audit events and flushes them to an ArchiveStore as a
// single JSON blob once the batch size is reached or Flush is called. It
// also implements Sink so it can be chained behind the primary logger.
type Exporter struct {
	mu        sync.Mutex
	next      Sink
	archive   ArchiveStore
	batch     []Event
	batchSize int
	nodeID    string
}

// NewExporter wraps next with archive export. batchSize <= 0 defaults to 64.
func NewExporter(nodeID string, next Sink, archive ArchiveStore, batchSize int) *Exporter {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Exporter{
		next:      next,
		archive:   archive,
		batchSize: batchSize,
		nodeID:    nodeID,
	}
}

func (e *Exporter) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	if e.next != nil {
		if err := e.next.Record(ctx, eventType, action, resource, metadata); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.batch = append(e.batch, Event{
		ID:        uuid.New().String(),
		NodeID:    e.nodeID,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	full := len(e.batch) >= e.batchSize
	e.mu.Unlock()

	if full {
		return e.Flush(ctx)
	}
	return nil
}

// Flush exports the buffered batch, if any. On export failure the batch is
// re-queued ahead of anything recorded meanwhile, so events are not lost.
// Safe to call at shutdown.
func (e *Exporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	if len(e.batch) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch := e.batch
	e.batch = nil
	e.mu.Unlock()

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("audit batch marshal failed: %w", err)
	}
	if _, err := e.archive.Store(ctx, data); err != nil {
		e.mu.Lock()
		e.batch = append(batch, e.batch...)
		e.mu.Unlock()
		return fmt.Errorf("audit batch export failed: %w", err)
	}
	return nil
}
