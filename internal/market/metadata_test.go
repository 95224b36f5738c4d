package market

import (
	"errors"
	"testing"
)

func TestStaticMetadata(t *testing.T) {
	m := StaticMetadata{
		"ETH/USD": {Symbol: "ETH/USD", Base: "ETH", Quote: "USD", PairDecimals: 2, LotDecimals: 8, OrderMin: 0.01},
	}

	info, err := m.PairInfo("ETH/USD")
	if err != nil {
		t.Fatalf("PairInfo() error: %v", err)
	}
	if info.Base != "ETH" || info.Quote != "USD" {
		t.Errorf("info = %+v", info)
	}

	if _, err := m.PairInfo("DOGE/USD"); !errors.Is(err, ErrUnsupportedSymbol) {
		t.Errorf("unknown symbol error = %v, want ErrUnsupportedSymbol", err)
	}

	if d, ok := m.AssetDecimals("ETH"); !ok || d != 8 {
		t.Errorf("AssetDecimals(ETH) = %d, %v", d, ok)
	}
	if d, ok := m.AssetDecimals("USD"); !ok || d != 2 {
		t.Errorf("AssetDecimals(USD) = %d, %v", d, ok)
	}
	if _, ok := m.AssetDecimals("JPY"); ok {
		t.Error("unknown asset reported as known")
	}
}

func TestSplitMetadata(t *testing.T) {
	var m SplitMetadata

	info, err := m.PairInfo("SOL/EUR")
	if err != nil {
		t.Fatalf("PairInfo() error: %v", err)
	}
	if info.Base != "SOL" || info.Quote != "EUR" {
		t.Errorf("info = %+v", info)
	}

	for _, bad := range []string{"SOLEUR", "/EUR", "SOL/"} {
		if _, err := m.PairInfo(bad); !errors.Is(err, ErrUnsupportedSymbol) {
			t.Errorf("PairInfo(%q) error = %v, want ErrUnsupportedSymbol", bad, err)
		}
	}
}
