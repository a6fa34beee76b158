package pool

import "testing"

func TestPool(t *testing.T) {
	created, destroyed := 0, 0
	p := New(2, func() int {
		created++
		return created
	}, func(int) { destroyed++ })

	a, b, c := p.Get(), p.Get(), p.Get()
	if created != 3 {
		t.Fatalf("created: got %d, want 3", created)
	}

	if !p.Put(a) || !p.Put(b) {
		t.Error("Put under capacity should keep the object")
	}
	if p.Put(c) {
		t.Error("Put over capacity should destroy the object")
	}
	if destroyed != 1 || p.Len() != 2 {
		t.Errorf("destroyed=%d len=%d, want 1 and 2", destroyed, p.Len())
	}

	if got := p.Get(); got != b {
		t.Errorf("Get: got %d, want most recent %d", got, b)
	}
	if created != 3 {
		t.Error("Get with idle objects should not create")
	}

	p.Close()
	if destroyed != 2 || p.Len() != 0 {
		t.Errorf("after Close: destroyed=%d len=%d", destroyed, p.Len())
	}
	if p.Put(b) {
		t.Error("Put after Close should destroy")
	}
	if destroyed != 3 {
		t.Errorf("destroyed: got %d, want 3", destroyed)
	}
}

func TestZeroCapacity(t *testing.T) {
	p := New(-1, func() string { return "x" }, nil)
	if p.Put(p.Get()) {
		t.Error("zero capacity pool should never keep objects")
	}
}
