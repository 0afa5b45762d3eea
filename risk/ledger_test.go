package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mm-quoter/gateway"
)

func TestLedgerRefreshReplacesPositions(t *testing.T) {
	ctx := context.Background()
	venue := gateway.NewPaper(1)
	venue.SetPosition("ASML", 12)
	venue.SetPosition("PHILIPS_A", -7)
	clk := NewManualClock(time.Unix(1_700_000_000, 0))

	l := NewLedger(venue, clk)
	require.NoError(t, l.Refresh(ctx))
	assert.Equal(t, int64(12), l.Position("ASML"))
	assert.Equal(t, int64(-7), l.Position("PHILIPS_A"))
	assert.Equal(t, int64(0), l.Position("UNKNOWN"))
	assert.Equal(t, int64(19), l.TotalAbsExposure())
	assert.Equal(t, map[gateway.Instrument]int64{"ASML": 12, "PHILIPS_A": -7}, l.Positions())
	assert.Equal(t, clk.Now(), l.LastSync())
}

func TestLedgerRefreshFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	venue := gateway.NewPaper(1)
	venue.SetPosition("ASML", 5)
	l := NewLedger(venue, nil)
	require.NoError(t, l.Refresh(ctx))

	venue.SetPosition("ASML", 50)
	venue.FailNext(gateway.OpPositions, gateway.KindTransport)
	err := l.Refresh(ctx)
	assert.Equal(t, gateway.KindTransport, gateway.KindOf(err))
	assert.Equal(t, int64(5), l.Position("ASML"))
}

func TestLedgerExposureReadsOutstanding(t *testing.T) {
	ctx := context.Background()
	venue := gateway.NewPaper(1)
	venue.SetPosition("ASML", 3)
	venue.SetPosition("PHILIPS_A", -4)
	_, err := venue.InsertOrder(ctx, gateway.InsertRequest{Instrument: "ASML", Side: gateway.SideBid, Price: 99, Volume: 6})
	require.NoError(t, err)
	_, err = venue.InsertOrder(ctx, gateway.InsertRequest{Instrument: "ASML", Side: gateway.SideAsk, Price: 101, Volume: 2})
	require.NoError(t, err)

	l := NewLedger(venue, nil)
	exp, err := l.Exposure(ctx, "ASML")
	require.NoError(t, err)
	assert.Equal(t, Exposure{Position: 3, BidOutstanding: 6, AskOutstanding: 2, TotalAbsExposure: 7}, exp)
}

func TestLedgerExposureDegradesOnFailure(t *testing.T) {
	ctx := context.Background()
	venue := gateway.NewPaper(1)
	venue.SetPosition("ASML", 3)
	_, err := venue.InsertOrder(ctx, gateway.InsertRequest{Instrument: "ASML", Side: gateway.SideBid, Price: 99, Volume: 6})
	require.NoError(t, err)

	l := NewLedger(venue, nil)
	require.NoError(t, l.Refresh(ctx))
	venue.FailNext(gateway.OpPositions, gateway.KindTransport)
	venue.FailNext(gateway.OpOutstanding, gateway.KindTransport)

	exp, err := l.Exposure(ctx, "ASML")
	assert.Error(t, err)
	assert.Equal(t, Exposure{Position: 3, TotalAbsExposure: 3}, exp)
}
