// Package gate implements plakat's shared passphrase gate. It is a convenience gate keeping casual
// visitors out; a passphrase digest is compared for equality, nothing more.
package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"wuyrush.io/plakat/common/logging"
	pe "wuyrush.io/plakat/errors"
)

const ErrMsgWrongPassphrase = "Wrong password."

type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// Storage persists the digest of the last passphrase that unlocked the gate
type Storage interface {
	// Load returns the stored digest, or "" if there is none
	Load() (string, *pe.PinErr)
	Store(digest string) *pe.PinErr
}

// Digest returns the lowercase hex SHA-256 digest of passphrase
func Digest(passphrase string) string {
	sum := sha256.Sum256([]byte(passphrase))
	return hex.EncodeToString(sum[:])
}

// Gate is the two-state lock. It starts unlocked when no reference digest is configured or when the stored
// digest matches the reference.
type Gate struct {
	reference string
	storage   Storage

	mu    sync.Mutex
	state State
	err   *pe.PinErr
}

func New(reference string, s Storage) *Gate {
	g := &Gate{reference: normalizeDigest(reference), storage: s, state: Locked}
	if g.reference == "" {
		g.state = Unlocked
		return g
	}
	if s == nil {
		return g
	}
	stored, err := s.Load()
	if err != nil {
		logging.WithFuncName().WithError(err).Warn("error loading stored access digest, starting locked")
		return g
	}
	if g.Matches(stored) {
		g.state = Unlocked
	}
	return g
}

// Matches reports whether digest equals the reference digest. It is always false for a disabled gate.
func (g *Gate) Matches(digest string) bool {
	return g.reference != "" && normalizeDigest(digest) == g.reference
}

// Unlock compares the digest of passphrase with the reference. On a match the gate unlocks and the digest
// is persisted; otherwise it stays locked and the wrong-password error is returned and kept until the next
// successful attempt.
func (g *Gate) Unlock(passphrase string) *pe.PinErr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reference == "" {
		g.state, g.err = Unlocked, nil
		return nil
	}
	d := Digest(passphrase)
	if d != g.reference {
		g.err = pe.ErrUnauthorized(ErrMsgWrongPassphrase)
		return g.err
	}
	g.state, g.err = Unlocked, nil
	if g.storage != nil {
		// the gate is open for this session either way
		if err := g.storage.Store(d); err != nil {
			logging.WithFuncName().WithError(err).Warn("error persisting access digest")
		}
	}
	return nil
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) Unlocked() bool {
	return g.State() == Unlocked
}

// Err returns the error of the last failed unlock attempt, if any
func (g *Gate) Err() *pe.PinErr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func normalizeDigest(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
