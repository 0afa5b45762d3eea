package market

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mm-quoter/gateway"
)

func TestVWAPMid(t *testing.T) {
	book := gateway.Book{
		Bids: []gateway.Level{{Price: 100, Volume: 1}, {Price: 99, Volume: 3}},
		Asks: []gateway.Level{{Price: 101, Volume: 2}, {Price: 104, Volume: 2}},
	}
	mid, ok := VWAPMid(book)
	assert.True(t, ok)
	// bid vwap = (100+297)/4 = 99.25, ask vwap = (202+208)/4 = 102.5
	assert.InDelta(t, (99.25+102.5)/2, mid, 1e-9)
}

func TestVWAPMidUsesDepth(t *testing.T) {
	book := gateway.Book{
		Bids: []gateway.Level{{Price: 99.9, Volume: 10}},
		Asks: []gateway.Level{{Price: 100.1, Volume: 10}, {Price: 100.3, Volume: 10}},
	}
	mid, ok := VWAPMid(book)
	assert.True(t, ok)
	assert.InDelta(t, 100.05, mid, 1e-9)
}

func TestVWAPMidUndefined(t *testing.T) {
	cases := map[string]gateway.Book{
		"no bids":     {Asks: []gateway.Level{{Price: 101, Volume: 1}}},
		"no asks":     {Bids: []gateway.Level{{Price: 99, Volume: 1}}},
		"zero volume": {Bids: []gateway.Level{{Price: 99, Volume: 0}}, Asks: []gateway.Level{{Price: 101, Volume: 1}}},
		"negative":    {Bids: []gateway.Level{{Price: 99, Volume: 1}}, Asks: []gateway.Level{{Price: 101, Volume: -1}}},
	}
	for name, book := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := VWAPMid(book)
			assert.False(t, ok)
		})
	}
}
