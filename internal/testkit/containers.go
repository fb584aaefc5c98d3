package testkit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// endpoint is a running dependency: either a container we own or an
// externally provided address that must never be terminated.
type endpoint struct {
	name      string
	address   string
	container testcontainers.Container
}

func (e *endpoint) external() bool { return e.container == nil }

func (e *endpoint) terminate(ctx context.Context) error {
	if e == nil || e.external() {
		return nil
	}
	if err := e.container.Terminate(ctx); err != nil {
		return fmt.Errorf("terminate %s: %w", e.name, err)
	}
	return nil
}

// startPostgres returns a DSN for a throwaway database. PRICEAGG_TEST_PG_DSN
// short-circuits the container.
func startPostgres(ctx context.Context, cfg Config) (*endpoint, error) {
	if cfg.PGDSN != "" {
		return &endpoint{name: "postgres", address: cfg.PGDSN}, nil
	}

	ctr, err := postgres.Run(ctx,
		cfg.PGImage,
		postgres.WithDatabase(scratchName("prices")),
		postgres.WithUsername("priceagg"),
		postgres.WithPassword("priceagg"),
		testcontainers.WithWaitStrategyAndDeadline(cfg.StartupTimeout,
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}
	ep := &endpoint{name: "postgres", container: ctr}

	if ep.address, err = ctr.ConnectionString(ctx, "sslmode=disable"); err != nil {
		_ = ep.terminate(ctx)
		return nil, fmt.Errorf("postgres connection string: %w", err)
	}
	return ep, nil
}

// startRedis returns a host:port address, the form go-redis and asynq expect.
func startRedis(ctx context.Context, cfg Config) (*endpoint, error) {
	if cfg.RedisAddr != "" {
		return &endpoint{name: "redis", address: cfg.RedisAddr}, nil
	}

	ctr, err := tcredis.Run(ctx, cfg.RedisImage)
	if err != nil {
		return nil, fmt.Errorf("start redis container: %w", err)
	}
	ep := &endpoint{name: "redis", container: ctr}

	uri, err := ctr.ConnectionString(ctx)
	if err == nil {
		var u *url.URL
		if u, err = url.Parse(uri); err == nil {
			ep.address = u.Host
		}
	}
	if err != nil {
		_ = ep.terminate(ctx)
		return nil, fmt.Errorf("redis address: %w", err)
	}
	return ep, nil
}

func scratchName(prefix string) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return prefix + "_test"
	}
	return prefix + "_" + hex.EncodeToString(b)
}
