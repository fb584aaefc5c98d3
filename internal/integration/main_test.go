//go:build integration

package integration

import (
	"context"
	"testing"

	"priceaggregator/internal/testkit"
)

func TestMain(m *testing.M) {
	testkit.Run(m, func() error {
		ctx := context.Background()
		var err error
		if testDB, err = testkit.Global().OpenMigratedDB(ctx); err != nil {
			return err
		}
		testRDB, err = testkit.Global().NewRedisClient(ctx)
		return err
	})
}
