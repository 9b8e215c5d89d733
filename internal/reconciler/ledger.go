package reconciler

// Ledger accumulates realized round-trip profit and folds it into the
// capital basis once enough has built up since the last fold.
type Ledger struct {
	RealizedPnL       float64
	TradeCount        int
	Capital           float64
	InitialCapital    float64
	LastCompoundPnL   float64
	CompoundThreshold float64
}

func NewLedger(capital, compoundThreshold float64) *Ledger {
	return &Ledger{
		Capital:           capital,
		InitialCapital:    capital,
		CompoundThreshold: compoundThreshold,
	}
}

// Record books one closed round trip and returns the amount compounded, if any.
func (l *Ledger) Record(profit float64) float64 {
	l.RealizedPnL += profit
	l.TradeCount++
	return l.maybeCompound()
}

func (l *Ledger) maybeCompound() float64 {
	diff := l.RealizedPnL - l.LastCompoundPnL
	if l.CompoundThreshold <= 0 || diff < l.CompoundThreshold {
		return 0
	}
	l.Capital += diff
	l.LastCompoundPnL = l.RealizedPnL
	return diff
}

// Compound folds any positive unfolded profit regardless of the threshold.
// Recenter calls it so the new grid is sized on the grown basis.
func (l *Ledger) Compound() float64 {
	diff := l.RealizedPnL - l.LastCompoundPnL
	if diff <= 0 {
		return 0
	}
	l.Capital += diff
	l.LastCompoundPnL = l.RealizedPnL
	return diff
}

// GrowthPct is capital growth since start, in percent.
func (l *Ledger) GrowthPct() float64 {
	if l.InitialCapital <= 0 {
		return 0
	}
	return (l.Capital/l.InitialCapital - 1) * 100
}

// ResetSession zeroes per-pair counters. Capital carries over.
func (l *Ledger) ResetSession() {
	l.RealizedPnL = 0
	l.TradeCount = 0
	l.LastCompoundPnL = 0
}
