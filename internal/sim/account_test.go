package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

func TestAccount_BuyMovesCashAndOpensPosition(t *testing.T) {
	a := NewAccount(10_000)

	err := a.Execute("ACME", domain.SideBuy, 50, 100, 5)
	require.NoError(t, err)

	assert.InDelta(t, 10_000-50*100-5, a.Cash(), 1e-9)
	pos, ok := a.Position("ACME")
	require.True(t, ok)
	assert.Equal(t, 50.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgEntry)
}

func TestAccount_InsufficientCashRejectsWhole(t *testing.T) {
	a := NewAccount(100)

	err := a.Execute("ACME", domain.SideBuy, 10, 100, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientCash)

	assert.Equal(t, 100.0, a.Cash())
	_, ok := a.Position("ACME")
	assert.False(t, ok)
}

func TestAccount_AddBlendsAverageEntry(t *testing.T) {
	a := NewAccount(100_000)

	require.NoError(t, a.Execute("ACME", domain.SideBuy, 100, 100, 0))
	require.NoError(t, a.Execute("ACME", domain.SideBuy, 100, 110, 0))

	pos, ok := a.Position("ACME")
	require.True(t, ok)
	assert.Equal(t, 200.0, pos.Quantity)
	assert.InDelta(t, 105.0, pos.AvgEntry, 1e-9)
}

func TestAccount_CloseBooksRealizedPnL(t *testing.T) {
	a := NewAccount(100_000)

	require.NoError(t, a.Execute("ACME", domain.SideBuy, 100, 100, 0))
	require.NoError(t, a.Execute("ACME", domain.SideSell, 100, 108, 0))

	pos, ok := a.Position("ACME")
	require.True(t, ok)
	assert.Zero(t, pos.Quantity)
	assert.Zero(t, pos.AvgEntry)
	assert.InDelta(t, 800.0, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 100_000+800, a.Cash(), 1e-9)
}

func TestAccount_PartialCloseKeepsEntry(t *testing.T) {
	a := NewAccount(100_000)

	require.NoError(t, a.Execute("ACME", domain.SideBuy, 100, 100, 0))
	require.NoError(t, a.Execute("ACME", domain.SideSell, 40, 110, 0))

	pos, _ := a.Position("ACME")
	assert.Equal(t, 60.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgEntry)
	assert.InDelta(t, 400.0, pos.RealizedPnL, 1e-9)
}

func TestAccount_FlipResetsEntryToFillPrice(t *testing.T) {
	a := NewAccount(100_000)

	require.NoError(t, a.Execute("ACME", domain.SideBuy, 100, 100, 0))
	require.NoError(t, a.Execute("ACME", domain.SideSell, 150, 105, 0))

	pos, _ := a.Position("ACME")
	assert.Equal(t, -50.0, pos.Quantity)
	assert.Equal(t, 105.0, pos.AvgEntry)
	// Only the closed 100 realizes P&L.
	assert.InDelta(t, 500.0, pos.RealizedPnL, 1e-9)
}

func TestAccount_MarkToMarket(t *testing.T) {
	a := NewAccount(100_000)
	require.NoError(t, a.Execute("ACME", domain.SideBuy, 100, 100, 0))

	a.MarkToMarket(map[string]float64{"ACME": 103})

	pos, _ := a.Position("ACME")
	assert.InDelta(t, 300.0, pos.UnrealizedPnL, 1e-9)
}

func TestAccount_RejectsNonPositiveFills(t *testing.T) {
	a := NewAccount(100_000)
	assert.ErrorIs(t, a.Execute("ACME", domain.SideBuy, 0, 100, 0), domain.ErrInvalidIntent)
	assert.ErrorIs(t, a.Execute("ACME", domain.SideBuy, 10, -1, 0), domain.ErrInvalidIntent)
}
