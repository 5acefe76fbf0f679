package bqstore

import "time"

// SetClock replaces the processor's clock.
func (p *LedgerProcessor) SetClock(now func() time.Time) {
	p.now = now
}
