package provider

import (
	"priceaggregator/internal/config"
)

// Config keys under "sources" for the built-in adapters.
const (
	KeyFrankfurter      = "frankfurter"
	KeyExchangeRateHost = "exchangerate_host"
	KeyBitstamp         = "bitstamp"
	KeyBittrex          = "bittrex"
)

// NewRegistryFromConfig builds the registry with every enabled built-in adapter.
// Unknown keys are ignored.
func NewRegistryFromConfig(sources map[string]config.SourceConfig) *Registry {
	reg := NewRegistry()
	for key, sc := range sources {
		if !sc.Enabled {
			continue
		}
		if a := newAdapter(key, sc); a != nil {
			reg.Register(a)
		}
	}
	return reg
}

func newAdapter(key string, sc config.SourceConfig) Adapter {
	switch key {
	case KeyFrankfurter:
		return NewFrankfurterProvider(sc.BaseURL, sc.Timeout)
	case KeyExchangeRateHost:
		return NewExchangeRateHostProvider(sc.BaseURL, sc.APIKey, sc.Timeout)
	case KeyBitstamp:
		return NewBitstampProvider(sc.BaseURL, sc.Timeout)
	case KeyBittrex:
		return NewBittrexProvider(sc.BaseURL, sc.Timeout)
	}
	return nil
}

// SourceName returns the display name stored for the adapter configured under key,
// or "" for unknown keys.
func SourceName(key string) string {
	if a := newAdapter(key, config.SourceConfig{}); a != nil {
		return a.Name()
	}
	return ""
}
