// Package audit provides the structured audit sink of the fabric and
// optional archive export of audit batches to blob storage.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventAccess      EventType = "ACCESS"
	EventMutation    EventType = "MUTATION"
	EventPropagation EventType = "PROPAGATION"
	EventEnforcement EventType = "ENFORCEMENT"
	EventRevocation  EventType = "REVOCATION"
)

// Event represents a structured audit record.
type Event struct {
	ID        string         `json:"id"`
	NodeID    string         `json:"node_id"`
	Type      EventType      `json:"type"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sink records audit events. Implementations must be safe for concurrent
// use. Components treat the sink as optional: a nil Sink disables auditing.
type Sink interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error
}

// logger implements Sink, writing structured JSON to a configurable Writer.
type logger struct {
	mu     sync.Mutex
	nodeID string
	writer io.Writer
}

// NewLogger creates a Sink writing to os.Stdout.
func NewLogger(nodeID string) Sink {
	return NewLoggerWithWriter(nodeID, os.Stdout)
}

// NewLoggerWithWriter creates a Sink writing to the given writer. This
// allows injection for testing and custom sinks.
func NewLoggerWithWriter(nodeID string, w io.Writer) Sink {
	if w == nil {
		w = os.Stdout
	}
	return &logger{nodeID: nodeID, writer: w}
}

func (l *logger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	event := Event{
		ID:        uuid.New().String(),
		NodeID:    l.nodeID,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}
