package broker

// Ledger maps strategy -> asset -> signed quantity. It is owned by the
// book, which serializes every mutation; strategies only ever see copies.
type Ledger struct {
	pos map[string]map[string]float64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{pos: make(map[string]map[string]float64)}
}

func (l *Ledger) strategyPos(strategy string) map[string]float64 {
	pos, ok := l.pos[strategy]
	if !ok {
		pos = make(map[string]float64)
		l.pos[strategy] = pos
	}
	return pos
}

// Apply books one fill: base moves by the side-signed quantity, quote by
// the opposite-signed notional, and the fee comes out of quote. Entries
// that reach exactly zero are removed.
func (l *Ledger) Apply(strategy, base, quote string, side Side, qty, ntn, fee float64) {
	pos := l.strategyPos(strategy)
	mult := side.sign()

	pos[base] += qty * mult
	pos[quote] -= ntn * mult
	pos[quote] -= fee

	if pos[base] == 0 {
		delete(pos, base)
	}
	if pos[quote] == 0 {
		delete(pos, quote)
	}
}

// Position returns a copy of one strategy's positions.
func (l *Ledger) Position(strategy string) map[string]float64 {
	pos := l.strategyPos(strategy)
	out := make(map[string]float64, len(pos))
	for asset, qty := range pos {
		out[asset] = qty
	}
	return out
}

// Seed replaces one strategy's positions, used when resuming a live
// strategy from its journal.
func (l *Ledger) Seed(strategy string, pos map[string]float64) {
	fresh := make(map[string]float64, len(pos))
	for asset, qty := range pos {
		if qty != 0 {
			fresh[asset] = qty
		}
	}
	l.pos[strategy] = fresh
}

// Combined sums positions across all strategies, for reconciliation
// against the exchange's reported balance.
func (l *Ledger) Combined() map[string]float64 {
	out := make(map[string]float64)
	for _, pos := range l.pos {
		for asset, qty := range pos {
			out[asset] += qty
		}
	}
	return out
}

// Strategies lists the strategies with a ledger entry.
func (l *Ledger) Strategies() []string {
	out := make([]string, 0, len(l.pos))
	for strategy := range l.pos {
		out = append(out, strategy)
	}
	return out
}
