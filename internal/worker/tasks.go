// Package worker dispatches pipeline units as asynq tasks.
package worker

import (
	"encoding/json"
	"fmt"
)

// Task types. The *_all tasks fan out into one unit task per source or currency.
const (
	TypeIngestAll         = "pipeline:ingest_all"
	TypeIngestSource      = "pipeline:ingest_source"
	TypeAggregateAll      = "pipeline:aggregate_all"
	TypeAggregateCurrency = "pipeline:aggregate_currency"
	TypeArbitrageAll      = "pipeline:arbitrage_all"
	TypeArbitrageCurrency = "pipeline:arbitrage_currency"
)

// PassPayload is carried by the fan-out tasks.
type PassPayload struct {
	Force bool `json:"force,omitempty"`
}

// SourcePayload identifies one ingestion unit.
type SourcePayload struct {
	Source string `json:"source"`
	Force  bool   `json:"force,omitempty"`
}

// CurrencyPayload identifies one aggregation or arbitrage unit.
type CurrencyPayload struct {
	Currency string `json:"currency"`
}

func decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
