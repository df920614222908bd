package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func dedupCandidate(pair, token string) CandidatePair {
	return CandidatePair{
		Source:       SourceMarketPoll,
		Chain:        "ethereum",
		PairAddress:  pair,
		TokenAddress: token,
		Volume1h:     Known(1000),
		TxCount1h:    Known(10),
	}
}

func TestDedup_FirstSightingAllowed(t *testing.T) {
	d := NewDeduplicator(DefaultDedupConfig())
	c := dedupCandidate("0xpair", "0xtoken")

	ok, reason := d.Allow(&c)
	assert.True(t, ok)
	assert.Equal(t, "first_sighting", reason)
}

func TestDedup_RepeatInsideCooldownSuppressed(t *testing.T) {
	d := NewDeduplicator(DefaultDedupConfig())
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	c := dedupCandidate("0xpair", "0xtoken")
	ok, _ := d.Allow(&c)
	assert.True(t, ok)

	now = now.Add(5 * time.Minute)
	ok, reason := d.Allow(&c)
	assert.False(t, ok)
	assert.Equal(t, "cooldown", reason)
	assert.Equal(t, int64(1), d.Stats().Suppressed)
}

func TestDedup_CooldownExpiryAllows(t *testing.T) {
	d := NewDeduplicator(DefaultDedupConfig())
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	c := dedupCandidate("0xpair", "0xtoken")
	d.Allow(&c)

	now = now.Add(11 * time.Minute)
	ok, reason := d.Allow(&c)
	assert.True(t, ok)
	assert.Equal(t, "cooldown_expired", reason)
}

// Same pair seen again five minutes later with hourly volume up 60%
// breaks cooldown; a third sighting two minutes after that with no
// further change is suppressed.
func TestDedup_MomentumBypassThenSuppress(t *testing.T) {
	d := NewDeduplicator(DefaultDedupConfig())
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	first := dedupCandidate("0xpair", "0xtoken")
	ok, _ := d.Allow(&first)
	assert.True(t, ok)

	now = now.Add(5 * time.Minute)
	second := dedupCandidate("0xpair", "0xtoken")
	second.Volume1h = Known(1600)
	ok, reason := d.Allow(&second)
	assert.True(t, ok, "60%% volume growth breaks cooldown")
	assert.Equal(t, "volume_spike", reason)
	assert.Equal(t, int64(1), d.Stats().Bypasses)

	now = now.Add(2 * time.Minute)
	third := dedupCandidate("0xpair", "0xtoken")
	third.Volume1h = Known(1600)
	ok, _ = d.Allow(&third)
	assert.False(t, ok, "no further change after the refreshed snapshot")
}

func TestDedup_PriceMoveBypass(t *testing.T) {
	d := NewDeduplicator(DefaultDedupConfig())
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	first := dedupCandidate("0xpair", "0xtoken")
	first.PriceChange1h = Known(1)
	d.Allow(&first)

	now = now.Add(3 * time.Minute)
	second := dedupCandidate("0xpair", "0xtoken")
	second.PriceChange1h = Known(-2.5)
	ok, reason := d.Allow(&second)
	assert.True(t, ok, "3.5 point move either direction qualifies")
	assert.Equal(t, "price_move", reason)
}

// Any increase in hourly transaction count bypasses the cooldown on
// its own, even when volume and price sit still.
func TestDedup_TxGrowthAloneBypasses(t *testing.T) {
	d := NewDeduplicator(DefaultDedupConfig())
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	first := dedupCandidate("0xpair", "0xtoken")
	d.Allow(&first)

	now = now.Add(5 * time.Minute)
	busier := dedupCandidate("0xpair", "0xtoken")
	busier.TxCount1h = Known(25)
	ok, reason := d.Allow(&busier)
	assert.True(t, ok, "tx count 10 -> 25 with flat volume qualifies")
	assert.Equal(t, "tx_growth", reason)

	// A flat count stays suppressed.
	now = now.Add(2 * time.Minute)
	flat := dedupCandidate("0xpair", "0xtoken")
	flat.TxCount1h = Known(25)
	ok, _ = d.Allow(&flat)
	assert.False(t, ok)
}

func TestDedup_UnknownMetricsNeverBypass(t *testing.T) {
	d := NewDeduplicator(DefaultDedupConfig())
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	first := dedupCandidate("0xpair", "0xtoken")
	d.Allow(&first)

	now = now.Add(3 * time.Minute)
	repeat := CandidatePair{Chain: "ethereum", PairAddress: "0xpair", TokenAddress: "0xtoken"}
	ok, _ := d.Allow(&repeat)
	assert.False(t, ok)
}

// A token trading in two pools is still suppressed by its token-level
// record even though the second pool has never been seen.
func TestDedup_TokenLevelCatchesMultiPool(t *testing.T) {
	d := NewDeduplicator(DefaultDedupConfig())
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	poolA := dedupCandidate("0xpoolA", "0xtoken")
	ok, _ := d.Allow(&poolA)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	poolB := dedupCandidate("0xpoolB", "0xtoken")
	ok, _ = d.Allow(&poolB)
	assert.False(t, ok, "token cooldown spans pools")
}

func TestDedup_Sweep(t *testing.T) {
	d := NewDeduplicator(DefaultDedupConfig())
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	c := dedupCandidate("0xpair", "0xtoken")
	d.Allow(&c)
	assert.Equal(t, 2, d.Stats().Tracked, "pair and token keys")

	now = now.Add(time.Hour)
	removed := d.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, d.Stats().Tracked)
}
