package propagation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wesheets/trustfabric/pkg/audit"
	"github.com/wesheets/trustfabric/pkg/contracts"
	"github.com/wesheets/trustfabric/pkg/crypto"
	"github.com/wesheets/trustfabric/pkg/observability"
	"github.com/wesheets/trustfabric/pkg/store"
)

// Defaults for the dispatch pool.
const (
	DefaultWorkerCount = 8
	DefaultCallTimeout = 30 * time.Second
)

// SurfaceResolver resolves surface ids at propagation time. Satisfied by
// *surface.Composer.
type SurfaceResolver interface {
	Get(ctx context.Context, id string) (*contracts.Surface, error)
}

// AttestationSource lists the attestations carried in envelopes. Satisfied
// by *attestation.Authority.
type AttestationSource interface {
	FilterBySurface(ctx context.Context, surfaceID string) ([]*contracts.Attestation, error)
}

// Coordinator fans trust assertions out to target nodes. Per-target
// transport failures are data (the outcome map), never errors; the aggregate
// status is derived purely from the outcomes.
type Coordinator struct {
	mu           sync.Mutex
	store        store.Store
	transport    Transport
	surfaces     SurfaceResolver
	attestations AttestationSource
	keyring      *crypto.Keyring
	auditSink    audit.Sink
	obs          *observability.Provider
	limiter      *rate.Limiter
	workers      int
	callTimeout  time.Duration
	logger       *slog.Logger
}

func NewCoordinator(s store.Store, transport Transport, surfaces SurfaceResolver) *Coordinator {
	return &Coordinator{
		store:       s,
		transport:   transport,
		surfaces:    surfaces,
		workers:     DefaultWorkerCount,
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default().With("component", "propagation"),
	}
}

// SetAttestationSource wires the source of envelope attestation ids.
func (c *Coordinator) SetAttestationSource(src AttestationSource) { c.attestations = src }

// SetKeyring enables envelope sealing.
func (c *Coordinator) SetKeyring(k *crypto.Keyring) { c.keyring = k }

// SetAuditSink wires the optional audit sink for per-target failures.
func (c *Coordinator) SetAuditSink(sink audit.Sink) { c.auditSink = sink }

// SetObservability wires the optional metrics/tracing provider.
func (c *Coordinator) SetObservability(p *observability.Provider) { c.obs = p }

// SetWorkerCount bounds concurrent sends.
func (c *Coordinator) SetWorkerCount(n int) {
	if n > 0 {
		c.workers = n
	}
}

// SetCallTimeout bounds the total latency of one Propagate or Retry call.
func (c *Coordinator) SetCallTimeout(d time.Duration) {
	if d > 0 {
		c.callTimeout = d
	}
}

// SetRateLimit caps dispatches per second across all workers. Zero disables
// the limiter.
func (c *Coordinator) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		c.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Propagate creates a record with all targets pending, dispatches one send
// per target through the bounded worker pool, and returns once every
// dispatched send resolved or the call timeout elapsed. Targets unresolved
// at the deadline are marked failed.
func (c *Coordinator) Propagate(ctx context.Context, sourceNodeID, surfaceID string, targets []string, typ contracts.PropagationType, metadata map[string]any) (*contracts.PropagationRecord, error) {
	if c.transport == nil {
		return nil, fmt.Errorf("transport not configured: %w", contracts.ErrUnavailable)
	}
	if !contracts.ValidPropagationType(typ) {
		return nil, fmt.Errorf("unknown propagation type %q: %w", typ, contracts.ErrValidation)
	}
	targets = dedupe(targets)
	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one target required: %w", contracts.ErrValidation)
	}
	if _, err := c.surfaces.Get(ctx, surfaceID); err != nil {
		return nil, fmt.Errorf("surface %s: %w", surfaceID, err)
	}

	now := time.Now().UTC()
	record := &contracts.PropagationRecord{
		ID:           "prp-" + uuid.NewString(),
		SourceNodeID: crypto.NormalizeString(sourceNodeID),
		SurfaceID:    surfaceID,
		TargetNodes:  targets,
		Type:         typ,
		Outcomes:     make(map[string]contracts.TargetOutcome, len(targets)),
		Detail:       make(map[string]string),
		Status:       contracts.PropagationPending,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, t := range targets {
		record.Outcomes[t] = contracts.OutcomePending
	}

	// Build the envelope before the record is persisted: a failure here must
	// not leave behind a pending record that Retry would refuse to re-enter.
	env, err := c.buildEnvelope(ctx, record)
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, record); err != nil {
		return nil, err
	}

	c.dispatch(ctx, record, env, targets)
	if err := c.persist(ctx, record); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "propagation finished",
		"id", record.ID, "status", record.Status,
		"success", len(record.SuccessfulNodes()), "failed", len(record.FailedNodes()))
	return record, nil
}

// Retry re-dispatches only the failed targets of an existing record. Fails
// ErrInvalidState when there is nothing to retry. Idempotent to re-invoke.
func (c *Coordinator) Retry(ctx context.Context, recordID string) (*contracts.PropagationRecord, error) {
	record, err := c.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	failed := record.FailedNodes()
	if len(failed) == 0 {
		return nil, fmt.Errorf("propagation %s has no failed targets: %w", recordID, contracts.ErrInvalidState)
	}

	env, err := c.buildEnvelope(ctx, record)
	if err != nil {
		return nil, err
	}

	c.dispatch(ctx, record, env, failed)
	if err := c.persist(ctx, record); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "propagation retried",
		"id", record.ID, "status", record.Status, "remaining_failed", len(record.FailedNodes()))
	return record, nil
}

type result struct {
	target  string
	err     error
	elapsed time.Duration
}

// dispatch sends the envelope to the given targets through the worker pool
// and merges results into the record's outcome map. Unresolved targets at
// the deadline are marked failed; in-flight sends past the deadline are not
// waited on.
func (c *Coordinator) dispatch(ctx context.Context, record *contracts.PropagationRecord, env *Envelope, targets []string) {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	_, span := c.obs.StartSpan(cctx, "propagation.dispatch")
	defer span.End()

	jobs := make(chan string)
	results := make(chan result, len(targets))

	workers := c.workers
	if workers > len(targets) {
		workers = len(targets)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range jobs {
				results <- c.send(cctx, target, env)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, t := range targets {
			select {
			case jobs <- t:
			case <-cctx.Done():
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	resolved := make(map[string]result, len(targets))
collect:
	for len(resolved) < len(targets) {
		select {
		case r := <-results:
			resolved[r.target] = r
		case <-done:
			// Drain anything buffered before the pool wound down.
			for {
				select {
				case r := <-results:
					resolved[r.target] = r
				default:
					break collect
				}
			}
		case <-cctx.Done():
			break collect
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, target := range targets {
		r, ok := resolved[target]
		switch {
		case ok && r.err == nil:
			record.Outcomes[target] = contracts.OutcomeSuccess
			delete(record.Detail, target)
		case ok:
			record.Outcomes[target] = contracts.OutcomeFailure
			record.Detail[target] = r.err.Error()
		default:
			record.Outcomes[target] = contracts.OutcomeFailure
			record.Detail[target] = "deadline exceeded"
		}
		c.obs.RecordDispatch(cctx, target, ok && r.err == nil, r.elapsed)
		if record.Outcomes[target] == contracts.OutcomeFailure && c.auditSink != nil {
			_ = c.auditSink.Record(ctx, audit.EventPropagation, "dispatch_failed", record.ID, map[string]any{
				"target": target,
				"detail": record.Detail[target],
			})
		}
	}
	record.Status = record.DeriveStatus()
	record.UpdatedAt = time.Now().UTC()
}

func (c *Coordinator) send(ctx context.Context, target string, env *Envelope) result {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return result{target: target, err: err}
		}
	}

	sealed := *env
	if c.keyring != nil {
		if err := sealed.Seal(c.keyring, target); err != nil {
			return result{target: target, err: err}
		}
	}

	start := time.Now()
	err := c.transport.Send(ctx, target, &sealed)
	return result{target: target, err: err, elapsed: time.Since(start)}
}

func (c *Coordinator) buildEnvelope(ctx context.Context, record *contracts.PropagationRecord) (*Envelope, error) {
	env := &Envelope{
		PropagationID: record.ID,
		SourceNodeID:  record.SourceNodeID,
		SurfaceID:     record.SurfaceID,
		Type:          string(record.Type),
		IssuedAt:      time.Now().UTC(),
		Metadata:      record.Metadata,
	}
	if c.attestations != nil {
		atts, err := c.attestations.FilterBySurface(ctx, record.SurfaceID)
		if err != nil {
			return nil, err
		}
		for _, att := range atts {
			if att.Status == contracts.AttestationValid {
				env.AttestationIDs = append(env.AttestationIDs, att.ID)
			}
		}
	}
	return env, nil
}

// Get returns the record by id.
func (c *Coordinator) Get(ctx context.Context, id string) (*contracts.PropagationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.store.Get(ctx, store.KindPropagation, id)
	if err != nil {
		return nil, err
	}
	var r contracts.PropagationRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("corrupt propagation record %s: %w", id, err)
	}
	return &r, nil
}

// List returns all records in id order.
func (c *Coordinator) List(ctx context.Context) ([]*contracts.PropagationRecord, error) {
	return c.filter(ctx, func(*contracts.PropagationRecord) bool { return true })
}

// FilterByType returns records of the given propagation type.
func (c *Coordinator) FilterByType(ctx context.Context, typ contracts.PropagationType) ([]*contracts.PropagationRecord, error) {
	return c.filter(ctx, func(r *contracts.PropagationRecord) bool { return r.Type == typ })
}

// FilterBySurface returns records for the given surface.
func (c *Coordinator) FilterBySurface(ctx context.Context, surfaceID string) ([]*contracts.PropagationRecord, error) {
	return c.filter(ctx, func(r *contracts.PropagationRecord) bool { return r.SurfaceID == surfaceID })
}

// FilterByStatus returns records in the given aggregate status.
func (c *Coordinator) FilterByStatus(ctx context.Context, status contracts.PropagationStatus) ([]*contracts.PropagationRecord, error) {
	return c.filter(ctx, func(r *contracts.PropagationRecord) bool { return r.Status == status })
}

func (c *Coordinator) filter(ctx context.Context, keep func(*contracts.PropagationRecord) bool) ([]*contracts.PropagationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.store.Scan(ctx, store.KindPropagation)
	if err != nil {
		return nil, err
	}
	var out []*contracts.PropagationRecord
	for _, data := range raw {
		var r contracts.PropagationRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("corrupt propagation record: %w", err)
		}
		if keep(&r) {
			out = append(out, &r)
		}
	}
	return out, nil
}

func (c *Coordinator) persist(ctx context.Context, r *contracts.PropagationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, store.KindPropagation, r.ID, data)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
