// Package propagation implements the PropagationCoordinator: fan-out of a
// surface's trust assertion to peer nodes with per-target outcome tracking
// and retry.
package propagation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wesheets/trustfabric/pkg/crypto"
)

// Envelope is the propagation payload delivered to each target node. Body
// fields are canonicalized (RFC 8785) before sealing so the HMAC tag is
// stable across encoders.
type Envelope struct {
	PropagationID  string         `json:"propagation_id"`
	SourceNodeID   string         `json:"source_node_id"`
	SurfaceID      string         `json:"surface_id"`
	Type           string         `json:"type"`
	AttestationIDs []string       `json:"attestation_ids,omitempty"`
	IssuedAt       time.Time      `json:"issued_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	// Tag is the hex HMAC-SHA256 over the canonical body, keyed per target.
	// Empty when the coordinator has no keyring.
	Tag string `json:"tag,omitempty"`
}

// Seal computes and sets the envelope tag for the given target.
func (e *Envelope) Seal(keyring *crypto.Keyring, targetNodeID string) error {
	body, err := e.canonicalBody()
	if err != nil {
		return err
	}
	tag, err := keyring.Seal(targetNodeID, body)
	if err != nil {
		return err
	}
	e.Tag = tag
	return nil
}

// Open verifies the envelope tag on the receiving side.
func (e *Envelope) Open(keyring *crypto.Keyring, targetNodeID string) bool {
	body, err := e.canonicalBody()
	if err != nil {
		return false
	}
	return keyring.Open(targetNodeID, body, e.Tag)
}

func (e *Envelope) canonicalBody() ([]byte, error) {
	untagged := *e
	untagged.Tag = ""
	return crypto.CanonicalMarshal(&untagged)
}

// Transport delivers envelopes to target nodes. Send blocks until the target
// acknowledged the envelope or ctx expires; a non-nil error is a per-target
// failure, recorded in the outcome map, never surfaced as a propagation
// error.
type Transport interface {
	Send(ctx context.Context, targetNodeID string, env *Envelope) error
}

// HTTPTransport posts envelopes to peer nodes over HTTP. Target node ids are
// resolved to base URLs through the resolver (e.g. a static map or a
// discovery client).
type HTTPTransport struct {
	client  *http.Client
	resolve func(targetNodeID string) (string, error)
}

// NewHTTPTransport creates a transport with the given per-send timeout.
func NewHTTPTransport(timeout time.Duration, resolve func(string) (string, error)) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		client:  &http.Client{Timeout: timeout},
		resolve: resolve,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, targetNodeID string, env *Envelope) error {
	baseURL, err := t.resolve(targetNodeID)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", targetNodeID, err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("envelope marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/propagation", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send to %s: %w", targetNodeID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("target %s returned status %d", targetNodeID, resp.StatusCode)
	}
	return nil
}

// LoopbackTransport routes envelopes to in-process handlers. Used by tests
// and single-process demos.
type LoopbackTransport struct {
	mu       sync.RWMutex
	handlers map[string]func(ctx context.Context, env *Envelope) error
}

func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{handlers: make(map[string]func(context.Context, *Envelope) error)}
}

// Register installs the handler for a target node id.
func (t *LoopbackTransport) Register(nodeID string, handler func(ctx context.Context, env *Envelope) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[nodeID] = handler
}

func (t *LoopbackTransport) Send(ctx context.Context, targetNodeID string, env *Envelope) error {
	t.mu.RLock()
	handler, ok := t.handlers[targetNodeID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no route to node %s", targetNodeID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return handler(ctx, env)
}
