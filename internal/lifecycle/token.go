package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the current lifecycle stage of a tracked token.
type State string

const (
	StateDiscovered        State = "DISCOVERED"
	StateMetadataResolved  State = "METADATA_RESOLVED"
	StateLiquidityVerified State = "LIQUIDITY_VERIFIED"
	StateArmed             State = "ARMED"
	StateResolved          State = "RESOLVED"
)

// Event triggers a state transition.
type Event string

const (
	EventMetadata  Event = "METADATA"
	EventLiquidity Event = "LIQUIDITY"
	EventArm       Event = "ARM"
	EventResolve   Event = "RESOLVE"
)

// Resolution terminal outcomes.
const (
	ResolutionBought  = "bought"
	ResolutionSkipped = "skipped"
)

// SkipReason explains a skipped resolution.
type SkipReason string

const (
	SkipLowLiquidity     SkipReason = "LOW_LIQUIDITY"
	SkipLowActivity      SkipReason = "LOW_ACTIVITY"
	SkipNoVerifiedSource SkipReason = "NO_VERIFIED_SOURCE"
	SkipAgeOutOfRange    SkipReason = "AGE_OUT_OF_RANGE"
	SkipRiskFlag         SkipReason = "RISK_FLAG"
	SkipLowScore         SkipReason = "LOW_SCORE"
)

// transition defines an allowed state machine edge.
type transition struct {
	from  State
	event Event
}

// transitions is the authoritative transition table. Progress is
// strictly forward; the only edge available from every live state is
// RESOLVE.
var transitions = map[transition]State{
	{StateDiscovered, EventMetadata}:        StateMetadataResolved,
	{StateMetadataResolved, EventLiquidity}: StateLiquidityVerified,
	{StateLiquidityVerified, EventArm}:      StateArmed,
	{StateDiscovered, EventResolve}:         StateResolved,
	{StateMetadataResolved, EventResolve}:   StateResolved,
	{StateLiquidityVerified, EventResolve}:  StateResolved,
	{StateArmed, EventResolve}:              StateResolved,
}

// TransitionRecord is one entry in a token's history.
type TransitionRecord struct {
	From  State     `json:"from"`
	Event Event     `json:"event"`
	To    State     `json:"to"`
	At    time.Time `json:"at"`
}

// MetadataData carries resolved token identity on METADATA.
type MetadataData struct {
	Symbol   string
	Decimals int
}

// LiquidityData carries verified liquidity on LIQUIDITY.
type LiquidityData struct {
	USD float64
}

// ArmData carries the final score on ARM.
type ArmData struct {
	Score float64
}

// ResolveData carries the terminal outcome on RESOLVE.
type ResolveData struct {
	Resolution string
	Reason     SkipReason
}

// Token tracks one discovered token through the lifecycle machine.
// Safe for concurrent access via its embedded mutex.
type Token struct {
	mu sync.Mutex

	Chain        string
	TokenAddress string
	PairAddress  string
	Symbol       string
	Decimals     int

	State        State
	LiquidityUSD float64
	Score        float64
	Resolution   string
	SkipReason   SkipReason

	History   []TransitionRecord
	CreatedAt time.Time
	UpdatedAt time.Time

	// Guard thresholds, set by the manager at creation.
	minLiquidityUSD float64
	minScore        float64
}

// Transition advances the token through the state machine.
//
// data is interpreted based on the event type:
//   - EventMetadata:  *MetadataData
//   - EventLiquidity: *LiquidityData
//   - EventArm:       *ArmData (guards metadata, liquidity, score)
//   - EventResolve:   *ResolveData
//
// Returns an error on invalid transitions, missing data, or failed
// guards; state never changes on error.
func (t *Token) Transition(event Event, data any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prevState := t.State
	key := transition{from: t.State, event: event}

	nextState, ok := transitions[key]
	if !ok {
		return fmt.Errorf("invalid transition: state=%s event=%s", t.State, event)
	}

	now := time.Now()

	switch event {
	case EventMetadata:
		md, ok := data.(*MetadataData)
		if !ok || md == nil {
			return fmt.Errorf("event %s requires *MetadataData, got %T", event, data)
		}
		t.Symbol = md.Symbol
		t.Decimals = md.Decimals

	case EventLiquidity:
		ld, ok := data.(*LiquidityData)
		if !ok || ld == nil {
			return fmt.Errorf("event %s requires *LiquidityData, got %T", event, data)
		}
		if ld.USD < t.minLiquidityUSD {
			return fmt.Errorf("liquidity %.0f below minimum %.0f", ld.USD, t.minLiquidityUSD)
		}
		t.LiquidityUSD = ld.USD

	case EventArm:
		ad, ok := data.(*ArmData)
		if !ok || ad == nil {
			return fmt.Errorf("event %s requires *ArmData, got %T", event, data)
		}
		// The table already enforces that metadata and liquidity stages
		// happened; the guards re-check the stored evidence.
		if t.Symbol == "" {
			return fmt.Errorf("arm guard: metadata not resolved")
		}
		if t.LiquidityUSD < t.minLiquidityUSD {
			return fmt.Errorf("arm guard: liquidity %.0f below minimum %.0f", t.LiquidityUSD, t.minLiquidityUSD)
		}
		if ad.Score < t.minScore {
			return fmt.Errorf("arm guard: score %.1f below minimum %.1f", ad.Score, t.minScore)
		}
		t.Score = ad.Score

	case EventResolve:
		rd, ok := data.(*ResolveData)
		if !ok || rd == nil {
			return fmt.Errorf("event %s requires *ResolveData, got %T", event, data)
		}
		if rd.Resolution != ResolutionBought && rd.Resolution != ResolutionSkipped {
			return fmt.Errorf("invalid resolution %q", rd.Resolution)
		}
		if rd.Resolution == ResolutionSkipped && rd.Reason == "" {
			return fmt.Errorf("skipped resolution requires a reason")
		}
		t.Resolution = rd.Resolution
		t.SkipReason = rd.Reason
	}

	t.State = nextState
	t.UpdatedAt = now
	t.History = append(t.History, TransitionRecord{
		From: prevState, Event: event, To: nextState, At: now,
	})

	log.Info().
		Str("chain", t.Chain).
		Str("token", t.TokenAddress).
		Str("symbol", t.Symbol).
		Str("prev_state", string(prevState)).
		Str("event", string(event)).
		Str("new_state", string(t.State)).
		Str("resolution", t.Resolution).
		Str("skip_reason", string(t.SkipReason)).
		Msg("lifecycle: state transition")

	return nil
}

// Actionable reports whether the token is currently alert-worthy.
// Only ARMED qualifies.
func (t *Token) Actionable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State == StateArmed
}

// CurrentState returns the state. Thread-safe.
func (t *Token) CurrentState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

// IsResolved reports whether the token reached its terminal state.
func (t *Token) IsResolved() bool {
	return t.CurrentState() == StateResolved
}
