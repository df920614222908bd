package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(ManagerConfig{
		MinLiquidityUSD: 5000,
		MinScore:        25,
		Retention:       24 * time.Hour,
	})
}

// arm walks a token to ARMED through the full forward path.
func arm(t *testing.T, tok *Token) {
	t.Helper()
	require.NoError(t, tok.Transition(EventMetadata, &MetadataData{Symbol: "PEPE", Decimals: 18}))
	require.NoError(t, tok.Transition(EventLiquidity, &LiquidityData{USD: 12000}))
	require.NoError(t, tok.Transition(EventArm, &ArmData{Score: 61}))
}

func TestManager_ObserveCreatesOnce(t *testing.T) {
	m := testManager()

	tok := m.Observe("ethereum", "0xtok", "0xpair", "PEPE")
	require.NotNil(t, tok)
	assert.Equal(t, StateDiscovered, tok.CurrentState())
	assert.Equal(t, "PEPE", tok.Symbol)

	again := m.Observe("ethereum", "0xtok", "0xother", "")
	assert.Same(t, tok, again, "repeat sighting returns the tracked token")
	assert.Equal(t, "0xpair", again.PairAddress, "first sighting wins")

	other := m.Observe("base", "0xtok", "0xpair", "PEPE")
	assert.NotSame(t, tok, other, "same address on another chain is a distinct token")

	assert.Equal(t, 2, m.Stats().Tracked)
	assert.Equal(t, int64(2), m.Stats().Created)
}

func TestManager_SkipResolvesFromAnyLiveState(t *testing.T) {
	m := testManager()

	discovered := m.Observe("ethereum", "0xa", "0xpa", "")
	require.NoError(t, m.Skip(discovered, SkipAgeOutOfRange))
	assert.True(t, discovered.IsResolved())
	assert.Equal(t, SkipAgeOutOfRange, discovered.SkipReason)

	armed := m.Observe("ethereum", "0xb", "0xpb", "")
	arm(t, armed)
	require.NoError(t, m.Skip(armed, SkipRiskFlag))
	assert.True(t, armed.IsResolved())

	// A resolved token cannot be skipped twice.
	assert.Error(t, m.Skip(armed, SkipLowScore))
	assert.Equal(t, int64(2), m.Stats().Resolved)
}

func TestManager_MarkBought(t *testing.T) {
	m := testManager()

	tok := m.Observe("ethereum", "0xtok", "0xpair", "")
	arm(t, tok)
	require.True(t, tok.Actionable())

	require.NoError(t, m.MarkBought("ethereum", "0xtok"))
	assert.True(t, tok.IsResolved())
	assert.Equal(t, ResolutionBought, tok.Resolution)
	assert.False(t, tok.Actionable())
}

func TestManager_MarkBoughtUnknownToken(t *testing.T) {
	m := testManager()
	assert.Error(t, m.MarkBought("ethereum", "0xnever"))
}

func TestManager_ArmedListsOnlyActionable(t *testing.T) {
	m := testManager()

	m.Observe("ethereum", "0xcold", "0xp1", "")
	hot := m.Observe("ethereum", "0xhot", "0xp2", "")
	arm(t, hot)
	done := m.Observe("ethereum", "0xdone", "0xp3", "")
	arm(t, done)
	require.NoError(t, m.MarkBought("ethereum", "0xdone"))

	armed := m.Armed()
	require.Len(t, armed, 1)
	assert.Equal(t, "0xhot", armed[0].TokenAddress)
}

func TestManager_SweepRemovesStaleTokens(t *testing.T) {
	m := testManager()
	base := time.Now()
	m.now = func() time.Time { return base }

	m.Observe("ethereum", "0xstale", "0xp1", "")

	m.now = func() time.Time { return base.Add(20 * time.Hour) }
	fresh := m.Observe("ethereum", "0xfresh", "0xp2", "")

	m.now = func() time.Time { return base.Add(25 * time.Hour) }
	removed := m.Sweep()

	assert.Equal(t, 1, removed)
	assert.Nil(t, m.Get("ethereum", "0xstale"))
	assert.Same(t, fresh, m.Get("ethereum", "0xfresh"))
	assert.Equal(t, int64(1), m.Stats().Swept)
}

func TestManager_SweepKeepsRecentlyTouched(t *testing.T) {
	m := testManager()
	base := time.Now()
	m.now = func() time.Time { return base }

	tok := m.Observe("ethereum", "0xtok", "0xpair", "")

	// Transitions refresh UpdatedAt; simulate activity inside the window.
	tok.mu.Lock()
	tok.UpdatedAt = base.Add(10 * time.Hour)
	tok.mu.Unlock()

	m.now = func() time.Time { return base.Add(25 * time.Hour) }

	assert.Equal(t, 0, m.Sweep())
	assert.NotNil(t, m.Get("ethereum", "0xtok"))
}
