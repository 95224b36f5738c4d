// Package market holds exchange-metadata types shared by the brokers and
// the exchange clients.
package market

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedSymbol is returned when a symbol cannot be resolved against
// exchange metadata. Fatal to the order being created.
var ErrUnsupportedSymbol = errors.New("unsupported symbol")

// PairInfo describes a tradable currency pair.
type PairInfo struct {
	Symbol       string  // canonical form, e.g. "ETH/USD"
	Base         string  // e.g. "ETH"
	Quote        string  // e.g. "USD"
	PairDecimals int     // price precision
	LotDecimals  int     // quantity precision
	OrderMin     float64 // minimum order quantity in base units
}

// MetadataSource resolves symbols and asset precision.
type MetadataSource interface {
	// PairInfo resolves a symbol to its pair metadata. Returns an error
	// wrapping ErrUnsupportedSymbol when the symbol is unknown.
	PairInfo(symbol string) (PairInfo, error)

	// AssetDecimals returns the precision of a single asset, with ok=false
	// when the asset is unknown.
	AssetDecimals(asset string) (int, bool)
}

// StaticMetadata is a fixed symbol table. Backtests and tests use it; live
// trading loads the real table from the exchange.
type StaticMetadata map[string]PairInfo

// PairInfo implements MetadataSource.
func (m StaticMetadata) PairInfo(symbol string) (PairInfo, error) {
	info, ok := m[symbol]
	if !ok {
		return PairInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}
	return info, nil
}

// AssetDecimals implements MetadataSource. Assets inherit the lot precision
// of any pair they appear in.
func (m StaticMetadata) AssetDecimals(asset string) (int, bool) {
	for _, info := range m {
		if info.Base == asset {
			return info.LotDecimals, true
		}
		if info.Quote == asset {
			return info.PairDecimals, true
		}
	}
	return 0, false
}

// SplitMetadata derives base and quote by splitting "BASE/QUOTE" symbols.
// Sufficient for simulation, where precision and order minimums are not
// enforced.
type SplitMetadata struct{}

// PairInfo implements MetadataSource.
func (SplitMetadata) PairInfo(symbol string) (PairInfo, error) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" {
		return PairInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}
	return PairInfo{
		Symbol:       symbol,
		Base:         base,
		Quote:        quote,
		PairDecimals: 8,
		LotDecimals:  8,
	}, nil
}

// AssetDecimals implements MetadataSource.
func (SplitMetadata) AssetDecimals(asset string) (int, bool) {
	return 8, true
}
