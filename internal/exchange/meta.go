package exchange

// StaticMeta is a SymbolMeta with fixed trading rules for every symbol.
// Backtests use the zero value: unknown rules make the risk manager fall
// back to its conservative defaults.
type StaticMeta struct {
	MinQty   float64
	Step     float64
	Tick     float64
	Notional float64
}

func (m StaticMeta) MinOrderSize(symbol string) float64 { return m.MinQty }
func (m StaticMeta) MinNotional(symbol string) float64  { return m.Notional }
func (m StaticMeta) SizeStep(symbol string) float64     { return m.Step }
func (m StaticMeta) PriceTick(symbol string) float64    { return m.Tick }
