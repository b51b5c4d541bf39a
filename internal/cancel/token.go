// Package cancel holds the run-scoped cancel token and the recovery
// decision consulted when a bounded bridge retry is exhausted.
package cancel

import (
	"context"
	"sync/atomic"
)

// Token is a one-way cancel flag shared by every blocking loop of a run.
// Once cancelled it stays cancelled.
type Token struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewToken creates a token that is also cancelled when parent is done
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel sets the token. Further calls are no-ops.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Cancelled reports whether the token or its parent context has been cancelled
func (t *Token) Cancelled() bool {
	if t.cancelled.Load() {
		return true
	}
	if t.ctx.Err() != nil {
		t.cancelled.Store(true)
		return true
	}
	return false
}

// Context returns a context that is done once the token is cancelled
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done mirrors Context().Done()
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}
