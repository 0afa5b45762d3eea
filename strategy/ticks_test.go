package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickSnapping(t *testing.T) {
	tests := []struct {
		price, tick, floor, ceil float64
	}{
		{99.9, 0.1, 99.9, 99.9},
		{100.1, 0.1, 100.1, 100.1},
		{99.95, 0.1, 99.9, 100.0},
		{100 - 0.1, 0.1, 99.9, 99.9},
		{99.89999999999999, 0.1, 99.9, 99.9},
		{2000.37, 0.25, 2000.25, 2000.5},
		{5, 0, 5, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.floor, FloorToTick(tt.price, tt.tick), "floor(%v, %v)", tt.price, tt.tick)
		assert.Equal(t, tt.ceil, CeilToTick(tt.price, tt.tick), "ceil(%v, %v)", tt.price, tt.tick)
	}
}
