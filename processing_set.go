package lucid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ProcessingSet tracks the fingerprints of signing calls currently in flight
// through the pipeline. A fingerprint present in the set suppresses new
// submissions for identical calls; the original dispatch always proceeds.
//
// With a zero cooldown only in-flight calls are suppressed. A positive
// cooldown additionally suppresses identical calls for that long after the
// previous one was released.
type ProcessingSet struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	released map[string]time.Time
	cooldown time.Duration
}

// NewProcessingSet creates an empty set with the given cooldown
func NewProcessingSet(cooldown time.Duration) *ProcessingSet {
	return &ProcessingSet{
		inFlight: make(map[string]struct{}),
		released: make(map[string]time.Time),
		cooldown: cooldown,
	}
}

// TryAdd atomically checks and marks a fingerprint as in flight.
// It returns false if the fingerprint is already in flight or cooling down.
func (s *ProcessingSet) TryAdd(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.inFlight[fingerprint]; exists {
		return false
	}

	if until, exists := s.released[fingerprint]; exists {
		if time.Now().Before(until) {
			return false
		}
		delete(s.released, fingerprint)
	}

	s.inFlight[fingerprint] = struct{}{}
	return true
}

// Remove releases a fingerprint. Removing an absent fingerprint is a no-op.
func (s *ProcessingSet) Remove(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.inFlight[fingerprint]; !exists {
		return
	}
	delete(s.inFlight, fingerprint)

	if s.cooldown > 0 {
		s.released[fingerprint] = time.Now().Add(s.cooldown)
	}

	s.cleanupExpiredLocked()
}

// Contains reports whether a fingerprint is in flight
func (s *ProcessingSet) Contains(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.inFlight[fingerprint]
	return exists
}

// Len returns the number of in-flight fingerprints
func (s *ProcessingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// cleanupExpiredLocked drops elapsed cooldowns. Must be called with lock held.
func (s *ProcessingSet) cleanupExpiredLocked() {
	now := time.Now()
	for fingerprint, until := range s.released {
		if now.After(until) {
			delete(s.released, fingerprint)
		}
	}
}

// Fingerprint derives the stable identity of a call from its method and
// parameters. encoding/json sorts map keys, so structurally equal calls
// produce equal fingerprints.
func Fingerprint(method string, params []interface{}) string {
	data, err := json.Marshal(struct {
		Method string        `json:"method"`
		Params []interface{} `json:"params"`
	}{method, params})
	if err != nil {
		// Unserializable params (channels, funcs) fall back to the Go syntax
		// rendering, which still carries every field of the call.
		return fmt.Sprintf("%s:%#v", method, params)
	}
	return string(data)
}

// ShortFingerprint returns a log-friendly digest of a fingerprint
func ShortFingerprint(fingerprint string) string {
	hash := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(hash[:8])
}
