// Command trustfabric wires the fabric components together and runs a
// self-contained scenario: boundary -> surface -> attestation -> propagation
// -> enforcement. Useful as a smoke check and as wiring documentation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wesheets/trustfabric/pkg/attestation"
	"github.com/wesheets/trustfabric/pkg/audit"
	"github.com/wesheets/trustfabric/pkg/boundary"
	"github.com/wesheets/trustfabric/pkg/config"
	"github.com/wesheets/trustfabric/pkg/contracts"
	"github.com/wesheets/trustfabric/pkg/crypto"
	"github.com/wesheets/trustfabric/pkg/enforcement"
	"github.com/wesheets/trustfabric/pkg/observability"
	"github.com/wesheets/trustfabric/pkg/propagation"
	"github.com/wesheets/trustfabric/pkg/schema"
	"github.com/wesheets/trustfabric/pkg/store"
	"github.com/wesheets/trustfabric/pkg/surface"
)

func main() {
	if err := run(); err != nil {
		slog.Error("trustfabric failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg := config.Load()
	logger := slog.Default().With("node", cfg.NodeID)

	signer, err := crypto.NewEd25519Signer(cfg.NodeID)
	if err != nil {
		return err
	}

	// Refuse to start on profile drift when a profile is pinned.
	if cfg.ProfilePath != "" {
		profile, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return err
		}
		if err := profile.Verify(config.Version, signer.Algorithm()); err != nil {
			return err
		}
		logger.Info("approved profile verified", "fabric", profile.Fabric)
	}

	persistence, err := openStore(cfg)
	if err != nil {
		return err
	}

	validator, err := schema.NewEntityValidator()
	if err != nil {
		return err
	}

	sink := audit.NewLogger(cfg.NodeID)
	if archive, err := audit.NewArchiveFromEnv(ctx); err != nil {
		return err
	} else if archive != nil {
		sink = audit.NewExporter(cfg.NodeID, sink, archive, 64)
	}

	keyring, err := crypto.NewRandomKeyring()
	if err != nil {
		return err
	}

	var obs *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.ServiceVersion = config.Version
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			return err
		}
		defer func() { _ = obs.Shutdown(context.Background()) }()
	}

	boundaries := boundary.NewManager(persistence, validator)
	surfaces := surface.NewComposer(persistence, validator, boundaries)
	boundaries.SetSurfaceIndex(surfaces)

	authority := attestation.NewAuthority(persistence, signer, surfaces)
	authority.SetAuditSink(sink)

	transport := propagation.NewLoopbackTransport()
	coordinator := propagation.NewCoordinator(persistence, transport, surfaces)
	coordinator.SetAttestationSource(authority)
	coordinator.SetKeyring(keyring)
	coordinator.SetAuditSink(sink)
	coordinator.SetObservability(obs)
	coordinator.SetWorkerCount(cfg.WorkerCount)
	coordinator.SetRateLimit(cfg.DispatchPerSec, cfg.WorkerCount)

	gate, err := enforcement.NewGate(persistence, validator, boundaries)
	if err != nil {
		return err
	}
	gate.SetAuditSink(sink)
	gate.SetObservability(obs)
	gate.SetRemediationHook(func(ctx context.Context, policyID string, d contracts.EnforcementDecision) {
		logger.Warn("remediation triggered", "policy", policyID, "action", d.Action, "requester", d.RequesterID)
	})

	// Two loopback peers: one reachable, one flapping on its first delivery.
	flaky := true
	transport.Register("node-beta", func(ctx context.Context, env *propagation.Envelope) error {
		if !env.Open(keyring, "node-beta") {
			return fmt.Errorf("envelope tag mismatch")
		}
		return nil
	})
	transport.Register("node-gamma", func(ctx context.Context, env *propagation.Envelope) error {
		if flaky {
			flaky = false
			return fmt.Errorf("connection refused")
		}
		return nil
	})

	return scenario(ctx, logger, boundaries, surfaces, authority, coordinator, gate)
}

func scenario(
	ctx context.Context,
	logger *slog.Logger,
	boundaries *boundary.Manager,
	surfaces *surface.Composer,
	authority *attestation.Authority,
	coordinator *propagation.Coordinator,
	gate *enforcement.Gate,
) error {
	b, err := boundaries.Create(ctx, "node-alpha", contracts.BoundaryInternal,
		[]string{"data_access", "billing_api"}, map[string]any{"env": "demo"})
	if err != nil {
		return err
	}
	logger.Info("boundary created", "id", b.ID)

	s, err := surfaces.Create(ctx, "node-alpha", []string{b.ID}, contracts.SurfaceStandard, nil)
	if err != nil {
		return err
	}
	logger.Info("surface created", "id", s.ID)

	att, err := authority.Issue(ctx, "node-alpha", s.ID, "baseline", nil, attestation.WithTTL(12*time.Hour))
	if err != nil {
		return err
	}
	logger.Info("attestation issued", "id", att.ID, "verified", authority.Verify(att))

	record, err := coordinator.Propagate(ctx, "node-alpha", s.ID,
		[]string{"node-beta", "node-gamma"}, contracts.PropagationDirect, nil)
	if err != nil {
		return err
	}
	logger.Info("propagation finished", "id", record.ID, "status", record.Status,
		"failed", record.FailedNodes())

	if record.Status != contracts.PropagationComplete {
		record, err = coordinator.Retry(ctx, record.ID)
		if err != nil {
			return err
		}
		logger.Info("propagation retried", "id", record.ID, "status", record.Status)
	}

	policy, err := gate.CreatePolicy(ctx, enforcement.CreatePolicyRequest{
		BoundaryID:       b.ID,
		Level:            contracts.LevelStrict,
		PermittedActions: []string{"read", "write"},
		AutoRemediate:    true,
	})
	if err != nil {
		return err
	}

	for _, action := range []string{"read", "execute"} {
		decision, err := gate.Enforce(ctx, policy.ID, "data_access", action, "agent-7")
		if err != nil {
			return err
		}
		logger.Info("enforcement decision", "action", action, "granted", decision.Granted,
			"reason", decision.Reason)
	}
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.OpenSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return store.OpenPostgresStore(cfg.DatabaseURL)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return store.NewRedisStore(client, "trustfabric"), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}
