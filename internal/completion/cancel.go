package completion

import (
	"context"
	"sync"
)

// Token is the cancellation handle of one session. Cancelling it stops
// every recursion depth of that session at its next check.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

func (t *Token) Cancel() { t.cancel() }

// Cancelled reports whether the token, or the context it was derived
// from, has been cancelled.
func (t *Token) Cancelled() bool { return t.ctx.Err() != nil }

func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Context returns the context cancelled together with the token.
func (t *Token) Context() context.Context { return t.ctx }

// Registry maps message IDs to the token of the session answering them, so
// a caller holding only the message ID can stop the answer.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*Token)}
}

// Register creates the token for messageID. The returned cleanup removes
// it again; it must be called when the session ends.
func (r *Registry) Register(parent context.Context, messageID string) (*Token, func()) {
	token := newToken(parent)
	r.mu.Lock()
	if prev, ok := r.tokens[messageID]; ok {
		prev.Cancel()
	}
	r.tokens[messageID] = token
	r.mu.Unlock()

	return token, func() {
		r.mu.Lock()
		if r.tokens[messageID] == token {
			delete(r.tokens, messageID)
		}
		r.mu.Unlock()
		token.cancel()
	}
}

// Cancel signals the session answering messageID. It reports whether such
// a session was running.
func (r *Registry) Cancel(messageID string) bool {
	r.mu.Lock()
	token, ok := r.tokens[messageID]
	r.mu.Unlock()
	if ok {
		token.Cancel()
	}
	return ok
}

// IsCancelled reports whether the session answering messageID was
// cancelled. Unknown IDs are not cancelled.
func (r *Registry) IsCancelled(messageID string) bool {
	r.mu.Lock()
	token, ok := r.tokens[messageID]
	r.mu.Unlock()
	return ok && token.Cancelled()
}

// Active returns the number of registered sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
