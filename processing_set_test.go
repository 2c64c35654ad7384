package lucid

import (
	"sync"
	"testing"
	"time"
)

func TestFingerprint(t *testing.T) {
	params1 := []interface{}{map[string]interface{}{"from": "0xA", "to": "0xB", "value": "0x1"}}
	params2 := []interface{}{map[string]interface{}{"value": "0x1", "to": "0xB", "from": "0xA"}}
	params3 := []interface{}{map[string]interface{}{"from": "0xA", "to": "0xB", "value": "0x2"}}

	key1 := Fingerprint("eth_sendTransaction", params1)
	key2 := Fingerprint("eth_sendTransaction", params2)
	key3 := Fingerprint("eth_sendTransaction", params3)
	key4 := Fingerprint("wallet_sendTransaction", params1)

	// Key order inside params must not matter
	if key1 != key2 {
		t.Errorf("Expected structurally equal params to produce same fingerprint, got %s and %s", key1, key2)
	}

	if key1 == key3 {
		t.Errorf("Expected different params to produce different fingerprints")
	}

	if key1 == key4 {
		t.Errorf("Expected different methods to produce different fingerprints")
	}

	if len(ShortFingerprint(key1)) != 16 {
		t.Errorf("Expected 16 hex chars, got %d", len(ShortFingerprint(key1)))
	}
}

func TestFingerprint_Unserializable(t *testing.T) {
	callback := func() {}
	call := func(from string) []interface{} {
		return []interface{}{map[string]interface{}{"from": from, "onSigned": callback}}
	}

	keyA := Fingerprint("eth_sendTransaction", call("0xA"))
	keyB := Fingerprint("eth_sendTransaction", call("0xB"))

	if keyA == keyB {
		t.Errorf("Expected distinct fingerprints for calls differing in content, both got %s", keyA)
	}
	if keyA == "eth_sendTransaction" {
		t.Error("Expected fingerprint to carry the params, got the method alone")
	}
	if keyA != Fingerprint("eth_sendTransaction", call("0xA")) {
		t.Error("Expected identical unserializable calls to share a fingerprint")
	}
}

func TestProcessingSet_TryAdd_InFlight(t *testing.T) {
	set := NewProcessingSet(0)
	key := "inflight-test"

	if !set.TryAdd(key) {
		t.Fatal("Expected first TryAdd to succeed")
	}

	// Second call should see in-flight
	if set.TryAdd(key) {
		t.Error("Expected duplicate TryAdd to fail while in flight")
	}

	if !set.Contains(key) {
		t.Error("Expected key to be in flight")
	}
}

func TestProcessingSet_RemoveAllowsResubmission(t *testing.T) {
	set := NewProcessingSet(0)
	key := "remove-test"

	set.TryAdd(key)
	set.Remove(key)

	if set.Contains(key) {
		t.Error("Expected key to be released")
	}
	if !set.TryAdd(key) {
		t.Error("Expected TryAdd to succeed after release")
	}
	if set.Len() != 1 {
		t.Errorf("Expected 1 in-flight entry, got %d", set.Len())
	}
}

func TestProcessingSet_RemoveUnknownIsNoop(t *testing.T) {
	set := NewProcessingSet(time.Minute)
	set.Remove("never-added")

	// A phantom removal must not start a cooldown
	if !set.TryAdd("never-added") {
		t.Error("Expected TryAdd to succeed")
	}
}

func TestProcessingSet_Cooldown(t *testing.T) {
	set := NewProcessingSet(50 * time.Millisecond)
	key := "cooldown-test"

	set.TryAdd(key)
	set.Remove(key)

	// Still cooling down
	if set.TryAdd(key) {
		t.Error("Expected TryAdd to fail during cooldown")
	}

	time.Sleep(60 * time.Millisecond)

	if !set.TryAdd(key) {
		t.Error("Expected TryAdd to succeed after cooldown")
	}
	set.Remove(key)
}

func TestProcessingSet_AtomicTryAdd(t *testing.T) {
	set := NewProcessingSet(0)
	key := "atomic-test"

	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	rejected := 0

	// Launch 10 goroutines simultaneously
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := set.TryAdd(key)
			mu.Lock()
			if ok {
				added++
			} else {
				rejected++
			}
			mu.Unlock()
		}()
	}

	wg.Wait()

	// Exactly one should own the slot
	if added != 1 {
		t.Errorf("Expected exactly 1 successful add, got %d", added)
	}
	if rejected != 9 {
		t.Errorf("Expected 9 rejections, got %d", rejected)
	}
}
