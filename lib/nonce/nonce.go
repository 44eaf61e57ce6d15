// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nonce

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
)

const (
	// DefaultMaxAge is how long a challenge stays answerable.
	DefaultMaxAge = 5 * time.Minute

	// DefaultMaxStored bounds the used-nonce set.
	DefaultMaxStored = 10000

	// nonceBytes is the amount of randomness in a nonce (hex encoded
	// to twice as many characters).
	nonceBytes = 32
)

// Rejection reasons reported in Verification.Reason.
const (
	ReasonExpired          = "Challenge expired"
	ReasonFuture           = "Challenge timestamp is in the future"
	ReasonAlreadyUsed      = "Nonce already used"
	ReasonInvalidSignature = "Invalid signature"
)

// Config controls a Manager.
type Config struct {
	// Enabled turns the handshake on. Nonce authentication is opt-in;
	// a disabled Manager still generates and verifies, but callers use
	// Enabled to decide whether to require it.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxAge is the longest a challenge may wait for its answer.
	// Zero selects DefaultMaxAge.
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`

	// MaxStored bounds the used-nonce set. Zero selects
	// DefaultMaxStored.
	MaxStored int `yaml:"max_stored" json:"max_stored"`

	// Clock is the time source. Nil selects clock.Real().
	Clock clock.Clock `yaml:"-" json:"-"`
}

// Challenge is a server-issued nonce and its issue time in Unix
// milliseconds.
type Challenge struct {
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// Response is a client's answer to a Challenge.
type Response struct {
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// Verification is the outcome of Verify. Reason is empty when Valid.
type Verification struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Manager issues challenges and verifies responses against a bounded
// set of already-used nonces. Safe for concurrent use.
type Manager struct {
	enabled   bool
	maxAge    time.Duration
	maxStored int
	clock     clock.Clock

	mutex sync.Mutex
	used  map[string]struct{}
	// order records used nonces in insertion order for eviction.
	order []string
}

// New returns a Manager with defaults applied to zero fields.
func New(config Config) *Manager {
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.MaxStored <= 0 {
		config.MaxStored = DefaultMaxStored
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Manager{
		enabled:   config.Enabled,
		maxAge:    config.MaxAge,
		maxStored: config.MaxStored,
		clock:     config.Clock,
		used:      make(map[string]struct{}),
	}
}

// Enabled reports whether the handshake is required.
func (manager *Manager) Enabled() bool {
	return manager.enabled
}

// MaxAge returns the configured challenge lifetime.
func (manager *Manager) MaxAge() time.Duration {
	return manager.maxAge
}

// Generate returns a fresh challenge stamped with the current time.
func (manager *Manager) Generate() Challenge {
	random := make([]byte, nonceBytes)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(random)
	return Challenge{
		Nonce:     hex.EncodeToString(random),
		Timestamp: manager.clock.Now().UnixMilli(),
	}
}

// Sign computes the signature a client returns for challenge.
func Sign(challenge Challenge, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(challenge.Nonce + ":" + strconv.FormatInt(challenge.Timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Answer builds the Response for challenge. Convenience for clients.
func Answer(challenge Challenge, secret []byte) Response {
	return Response{
		Nonce:     challenge.Nonce,
		Timestamp: challenge.Timestamp,
		Signature: Sign(challenge, secret),
	}
}

// Verify checks response against secret. On success the nonce is
// recorded and can never verify again.
func (manager *Manager) Verify(response Response, secret []byte) Verification {
	now := manager.clock.Now().UnixMilli()

	if now-response.Timestamp > manager.maxAge.Milliseconds() {
		return Verification{Reason: ReasonExpired}
	}
	if response.Timestamp > now {
		return Verification{Reason: ReasonFuture}
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if _, seen := manager.used[response.Nonce]; seen {
		return Verification{Reason: ReasonAlreadyUsed}
	}

	expected := Sign(Challenge{Nonce: response.Nonce, Timestamp: response.Timestamp}, secret)
	// hmac.Equal is constant time and false on length mismatch.
	if !hmac.Equal([]byte(expected), []byte(response.Signature)) {
		return Verification{Reason: ReasonInvalidSignature}
	}

	manager.used[response.Nonce] = struct{}{}
	manager.order = append(manager.order, response.Nonce)
	if len(manager.order) > manager.maxStored {
		manager.evictOldestHalfLocked()
	}
	return Verification{Valid: true}
}

// UsedCount returns the size of the used-nonce set.
func (manager *Manager) UsedCount() int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return len(manager.used)
}

// Clear forgets every used nonce.
func (manager *Manager) Clear() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.used = make(map[string]struct{})
	manager.order = nil
}

func (manager *Manager) evictOldestHalfLocked() {
	evict := len(manager.order) / 2
	for _, nonce := range manager.order[:evict] {
		delete(manager.used, nonce)
	}
	manager.order = append([]string(nil), manager.order[evict:]...)
}
