package common

import "testing"

func TestLRU(t *testing.T) {
	evicted := []interface{}{}
	lru := NewLRU(2, func(key, value interface{}) {
		evicted = append(evicted, key)
	})

	if lru.Add("a", 1) {
		t.Fatal("adding under capacity should not evict")
	}
	lru.Add("b", 2)

	if v, ok := lru.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}

	// "a" was just touched, so "b" is the oldest
	if !lru.Add("c", 3) {
		t.Fatal("adding over capacity should evict")
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted %v, want [b]", evicted)
	}

	if lru.Contains("b") {
		t.Fatal("evicted key still present")
	}
	if !lru.Contains("a") || !lru.Contains("c") {
		t.Fatal("survivors missing")
	}
	if lru.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", lru.Len())
	}
}

func TestLRUUpdateExisting(t *testing.T) {
	lru := NewLRU(2, nil)

	lru.Add("a", 1)
	lru.Add("a", 2)

	if lru.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", lru.Len())
	}
	if v, _ := lru.Get("a"); v.(int) != 2 {
		t.Fatalf("Get(a) = %v, want 2", v)
	}
}

func TestLRUKeysOrder(t *testing.T) {
	lru := NewLRU(3, nil)

	lru.Add("a", 1)
	lru.Add("b", 2)
	lru.Add("c", 3)
	lru.Get("a")

	keys := lru.Keys()
	want := []interface{}{"b", "c", "a"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", keys, want)
		}
	}
}

func TestLRURemove(t *testing.T) {
	lru := NewLRU(2, nil)

	lru.Add("a", 1)
	if !lru.Remove("a") {
		t.Fatal("Remove should report the key was present")
	}
	if lru.Remove("a") {
		t.Fatal("Remove should report the key was absent")
	}
	if lru.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", lru.Len())
	}
}
