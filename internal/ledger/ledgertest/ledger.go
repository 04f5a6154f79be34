// Package ledgertest provides a scripted in-memory ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/opengraphlabs/layerinfer/internal/ledger"
)

// Step is the scripted outcome of one submission. Exactly one of Receipt or Err is used.
// When Gate is non-nil the submission blocks until Gate is closed or ctx ends.
type Step struct {
	Receipt *ledger.Receipt
	Err     error
	Gate    chan struct{}
}

// Ledger replays Steps in order and records every submitted transaction.
type Ledger struct {
	mu    sync.Mutex
	steps []Step
	txs   []*ledger.Transaction
	calls int
}

var _ ledger.Submitter = (*Ledger)(nil)

// New returns a ledger replaying steps.
func New(steps ...Step) *Ledger {
	return &Ledger{steps: steps}
}

// Push appends more steps.
func (l *Ledger) Push(steps ...Step) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, steps...)
}

// SignAndExecute implements ledger.Submitter.
func (l *Ledger) SignAndExecute(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error) {
	l.mu.Lock()
	l.txs = append(l.txs, tx)
	idx := l.calls
	l.calls++
	if idx >= len(l.steps) {
		l.mu.Unlock()
		return nil, fmt.Errorf("ledgertest: unexpected submission #%d", idx)
	}
	step := l.steps[idx]
	l.mu.Unlock()

	if step.Gate != nil {
		select {
		case <-step.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Receipt, nil
}

// Transactions returns the submitted transactions in order.
func (l *Ledger) Transactions() []*ledger.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*ledger.Transaction(nil), l.txs...)
}

// Calls returns the number of submissions so far.
func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
