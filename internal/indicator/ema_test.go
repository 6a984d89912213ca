package indicator

import (
	"math"
	"testing"
)

func TestEMA_SMASeed(t *testing.T) {
	e := NewEMA(3)

	e.Update(1)
	e.Update(2)
	if e.Ready() {
		t.Fatal("should not be ready after 2 of 3 inputs")
	}

	e.Update(3)
	if !e.Ready() {
		t.Fatal("should be ready after 3 inputs")
	}
	if e.Value() != 2 {
		t.Errorf("seed should be SMA(1,2,3)=2, got %v", e.Value())
	}

	// multiplier = 2/(3+1) = 0.5 → 4*0.5 + 2*0.5 = 3
	e.Update(4)
	if e.Value() != 3 {
		t.Errorf("expected 3 after update, got %v", e.Value())
	}
}

func TestEMA_ConstantInput(t *testing.T) {
	e := NewEMA(5)
	for i := 0; i < 50; i++ {
		e.Update(42.5)
	}
	if math.Abs(e.Value()-42.5) > 1e-12 {
		t.Errorf("EMA of constant input should be the constant, got %v", e.Value())
	}
}

func TestEMA_Reset(t *testing.T) {
	e := NewEMA(2)
	e.Update(10)
	e.Update(20)
	e.Reset()
	if e.Ready() || e.Value() != 0 {
		t.Error("reset should clear state")
	}
}
