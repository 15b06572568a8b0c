package journal

import "sync"

// Memory is an in-process journal used by the backtest summary and by
// tests.
type Memory struct {
	mu     sync.Mutex
	trades []TradeRecord
	equity []EquitySnapshot
}

var _ Journal = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) RecordTrade(t TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func (m *Memory) RecordEquity(e EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, e)
	return nil
}

// Trades returns a copy of all recorded trades, in order.
func (m *Memory) Trades() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out
}

// Equity returns a copy of all recorded equity snapshots, in order.
func (m *Memory) Equity() []EquitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EquitySnapshot, len(m.equity))
	copy(out, m.equity)
	return out
}

func (m *Memory) Close() error { return nil }

// Tee duplicates every record to each of its journals; the first error
// wins.
type Tee struct {
	Sinks []Journal
}

var _ Journal = (*Tee)(nil)

func NewTee(sinks ...Journal) *Tee { return &Tee{Sinks: sinks} }

func (t *Tee) RecordTrade(rec TradeRecord) error {
	for _, s := range t.Sinks {
		if err := s.RecordTrade(rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tee) RecordEquity(rec EquitySnapshot) error {
	for _, s := range t.Sinks {
		if err := s.RecordEquity(rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tee) Close() error {
	var first error
	for _, s := range t.Sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
