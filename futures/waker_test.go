package futures

import "testing"

func TestWakerRefCount(t *testing.T) {
	calls := 0
	w := WakerFunc(func() { calls++ })

	c := w.Clone()
	w.WakeByRef()
	if calls != 1 {
		t.Fatalf("WakeByRef: %d calls", calls)
	}

	w.Wake()
	if calls != 2 {
		t.Fatalf("Wake: %d calls", calls)
	}
	w.WakeByRef()
	if calls != 2 {
		t.Error("a consumed handle must not wake")
	}

	c.WakeByRef()
	if calls != 3 {
		t.Error("a live clone should still wake")
	}

	shared := c.(*rcWaker).shared
	c.Drop()
	c.Drop()
	if shared.target != nil {
		t.Error("dropping the last handle should release the target")
	}
	if shared.refs.Load() != 0 {
		t.Errorf("refs: %d", shared.refs.Load())
	}
	if _, ok := c.Clone().(noopWaker); !ok {
		t.Error("cloning a dropped handle should yield a no-op waker")
	}
}

func TestNoopWaker(t *testing.T) {
	w := NoopWaker()
	w.Wake()
	w.WakeByRef()
	w.Clone().Drop()
	w.Drop()
}
