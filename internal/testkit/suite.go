package testkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
)

// Suite owns the Postgres and Redis containers shared by one test binary.
type Suite struct {
	mu    sync.Mutex
	cfg   Config
	pg    *endpoint
	redis *endpoint
}

var (
	globalSuite *Suite
	globalOnce  sync.Once
)

// Global returns the process-wide Suite configured from the environment.
func Global() *Suite {
	globalOnce.Do(func() {
		globalSuite = &Suite{cfg: LoadConfig()}
	})
	return globalSuite
}

// Setup starts Postgres and Redis, or adopts the externally configured ones.
func (s *Suite) Setup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pg != nil || s.redis != nil {
		return errors.New("suite already set up")
	}

	pg, err := startPostgres(ctx, s.cfg)
	if err != nil {
		return err
	}
	rdb, err := startRedis(ctx, s.cfg)
	if err != nil {
		if !s.cfg.KeepContainers {
			_ = pg.terminate(ctx)
		}
		return err
	}
	s.pg, s.redis = pg, rdb
	return nil
}

// Shutdown terminates the containers the suite started. External endpoints and
// PRICEAGG_KEEP_CONTAINERS leave everything running.
func (s *Suite) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pg, rdb := s.pg, s.redis
	s.pg, s.redis = nil, nil

	if s.cfg.KeepContainers {
		fmt.Fprintln(os.Stderr, "PRICEAGG_KEEP_CONTAINERS set, leaving containers running")
		for _, ep := range []*endpoint{pg, rdb} {
			if ep != nil {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", ep.name, ep.address)
			}
		}
		return nil
	}
	return errors.Join(rdb.terminate(ctx), pg.terminate(ctx))
}

// PostgresDSN returns the connection string of the test database.
func (s *Suite) PostgresDSN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pg == nil {
		return ""
	}
	return s.pg.address
}

// RedisAddr returns the host:port of the test Redis.
func (s *Suite) RedisAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.redis == nil {
		return ""
	}
	return s.redis.address
}

// Run brings the suite up, runs the afterSetup hooks and the tests, tears
// everything down and exits. Call it from TestMain.
func (s *Suite) Run(m *testing.M, afterSetup ...func() error) {
	os.Exit(s.run(m, afterSetup))
}

func (s *Suite) run(m *testing.M, afterSetup []func() error) int {
	ctx := context.Background()
	if err := s.Setup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "integration setup failed: %v\n", err)
		return 1
	}
	defer func() {
		if err := s.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "integration teardown: %v\n", err)
		}
	}()

	for _, fn := range afterSetup {
		if err := fn(); err != nil {
			fmt.Fprintf(os.Stderr, "integration setup hook failed: %v\n", err)
			return 1
		}
	}
	return m.Run()
}

// Run delegates to Global().Run.
func Run(m *testing.M, afterSetup ...func() error) {
	Global().Run(m, afterSetup...)
}
