package lifecycle

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ManagerConfig tunes the lifecycle registry.
type ManagerConfig struct {
	MinLiquidityUSD float64
	MinScore        float64
	Retention       time.Duration
	MaxAgeDays      float64
}

// DefaultManagerConfig returns registry defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MinLiquidityUSD: 5000,
		MinScore:        25,
		Retention:       24 * time.Hour,
		MaxAgeDays:      14,
	}
}

// Manager is the registry of tracked tokens, keyed by chain and token
// address. It owns creation, terminal resolution, and retention.
type Manager struct {
	config ManagerConfig

	mu     sync.Mutex
	tokens map[string]*Token

	created  atomic.Int64
	armed    atomic.Int64
	resolved atomic.Int64
	swept    atomic.Int64

	now func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(config ManagerConfig) *Manager {
	if config.Retention == 0 {
		config.Retention = DefaultManagerConfig().Retention
	}
	return &Manager{
		config: config,
		tokens: make(map[string]*Token),
		now:    time.Now,
	}
}

func key(chain, token string) string { return chain + ":" + token }

// Observe returns the tracked token, creating it in DISCOVERED on
// first sight.
func (m *Manager) Observe(chain, token, pair, symbol string) *Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(chain, token)
	if existing, ok := m.tokens[k]; ok {
		return existing
	}

	now := m.now()
	t := &Token{
		Chain:           chain,
		TokenAddress:    token,
		PairAddress:     pair,
		Symbol:          symbol,
		State:           StateDiscovered,
		CreatedAt:       now,
		UpdatedAt:       now,
		minLiquidityUSD: m.config.MinLiquidityUSD,
		minScore:        m.config.MinScore,
	}
	m.tokens[k] = t
	m.created.Add(1)

	log.Debug().
		Str("chain", chain).
		Str("token", token).
		Str("pair", pair).
		Msg("lifecycle: token discovered")
	return t
}

// Get returns a tracked token or nil.
func (m *Manager) Get(chain, token string) *Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[key(chain, token)]
}

// Skip resolves a token as skipped with the given reason, regardless
// of which live state it is in.
func (m *Manager) Skip(t *Token, reason SkipReason) error {
	err := t.Transition(EventResolve, &ResolveData{Resolution: ResolutionSkipped, Reason: reason})
	if err == nil {
		m.resolved.Add(1)
	}
	return err
}

// MarkBought resolves an ARMED (or earlier) token as bought. Exposed
// for the operator endpoint; the watcher itself never trades.
func (m *Manager) MarkBought(chain, token string) error {
	t := m.Get(chain, token)
	if t == nil {
		return fmt.Errorf("lifecycle: unknown token %s on %s", token, chain)
	}
	err := t.Transition(EventResolve, &ResolveData{Resolution: ResolutionBought})
	if err == nil {
		m.resolved.Add(1)
	}
	return err
}

// NoteArmed bumps the armed counter; called by the pipeline after a
// successful ARM transition.
func (m *Manager) NoteArmed() { m.armed.Add(1) }

// Armed returns all currently actionable tokens.
func (m *Manager) Armed() []*Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Token
	for _, t := range m.tokens {
		if t.Actionable() {
			out = append(out, t)
		}
	}
	return out
}

// Sweep drops tokens that have not been touched within the retention
// window. Returns the number removed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, t := range m.tokens {
		t.mu.Lock()
		stale := now.Sub(t.UpdatedAt) >= m.config.Retention
		t.mu.Unlock()
		if stale {
			delete(m.tokens, k)
			removed++
		}
	}
	if removed > 0 {
		m.swept.Add(int64(removed))
		log.Info().Int("removed", removed).Int("remaining", len(m.tokens)).Msg("lifecycle: retention sweep")
	}
	return removed
}

// SweepLoop runs Sweep on an interval until stop closes.
func (m *Manager) SweepLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// ManagerStats reports registry counters.
type ManagerStats struct {
	Tracked  int   `json:"tracked"`
	Created  int64 `json:"created"`
	Armed    int64 `json:"armed"`
	Resolved int64 `json:"resolved"`
	Swept    int64 `json:"swept"`
}

func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	tracked := len(m.tokens)
	m.mu.Unlock()
	return ManagerStats{
		Tracked:  tracked,
		Created:  m.created.Load(),
		Armed:    m.armed.Load(),
		Resolved: m.resolved.Load(),
		Swept:    m.swept.Load(),
	}
}
