package form

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded reports that a newer request for the same key replaced this one
// before its result could be applied.
var ErrSuperseded = errors.New("form: request superseded")

// Token identifies one in-flight request for a key.
type Token struct {
	key string
	seq uint64
}

// Key returns the key the token was issued for.
func (t Token) Key() string { return t.key }

type inflight struct {
	seq    uint64
	cancel context.CancelFunc
}

// Tokens tracks the current request per key. Beginning a request cancels the
// previous one for the same key, and only the current token may commit.
type Tokens struct {
	mu      sync.Mutex
	seq     uint64
	current map[string]inflight
}

func NewTokens() *Tokens {
	return &Tokens{current: make(map[string]inflight)}
}

// Begin issues a new token for key and returns a context cancelled when the
// token is superseded or finished.
func (t *Tokens) Begin(ctx context.Context, key string) (Token, context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.current[key]; ok {
		prev.cancel()
	}
	t.seq++
	t.current[key] = inflight{seq: t.seq, cancel: cancel}
	return Token{key: key, seq: t.seq}, ctx
}

// Valid reports whether tok is still the current token of its key.
func (t *Tokens) Valid(tok Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.validLocked(tok)
}

// Commit runs apply only if tok is still current, holding the lock so no newer
// Begin can interleave with the writes.
func (t *Tokens) Commit(tok Token, apply func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.validLocked(tok) {
		return false
	}
	apply()
	return true
}

// Finish releases tok. It is a no-op for superseded tokens.
func (t *Tokens) Finish(tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.current[tok.key]; ok && cur.seq == tok.seq {
		cur.cancel()
		delete(t.current, tok.key)
	}
}

// InFlight returns the number of keys with a current request.
func (t *Tokens) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.current)
}

func (t *Tokens) validLocked(tok Token) bool {
	cur, ok := t.current[tok.key]
	return ok && cur.seq == tok.seq
}
