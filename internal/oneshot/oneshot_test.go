package oneshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wippyai/wasm-threads/futures"
)

func TestSendBeforePoll(t *testing.T) {
	tx, rx := New[int]()
	if !tx.Send(3) {
		t.Fatal("first send should succeed")
	}
	if tx.Send(4) {
		t.Error("second send should fail")
	}
	p := rx.Poll(futures.NewContext(futures.NoopWaker(), nil))
	if !p.Ready || !p.Value.OK || p.Value.Value != 3 {
		t.Errorf("got %+v", p)
	}
}

func TestSendWakesReceiver(t *testing.T) {
	tx, rx := New[string]()
	woken := 0
	w := futures.WakerFunc(func() { woken++ })
	if p := rx.Poll(futures.NewContext(w, nil)); p.Ready {
		t.Fatal("receiver should be pending")
	}
	// polling again replaces the stored waker
	if p := rx.Poll(futures.NewContext(w, nil)); p.Ready {
		t.Fatal("receiver should still be pending")
	}
	tx.Send("hi")
	if woken != 1 {
		t.Errorf("wakes: got %d, want 1", woken)
	}
	out, ok := rx.TryRecv()
	if !ok || out.Value != "hi" {
		t.Errorf("TryRecv: %+v %v", out, ok)
	}
}

func TestCloseWithoutSend(t *testing.T) {
	tx, rx := New[int]()
	woken := false
	rx.Poll(futures.NewContext(futures.WakerFunc(func() { woken = true }), nil))
	tx.Close()
	if !woken {
		t.Error("close should wake the receiver")
	}
	p := rx.Poll(futures.NewContext(futures.NoopWaker(), nil))
	if !p.Ready || p.Value.OK {
		t.Errorf("got %+v, want ready without value", p)
	}
	if tx.Send(1) {
		t.Error("send after close should fail")
	}
}

func TestReceiverClose(t *testing.T) {
	tx, rx := New[int]()
	rx.Close()
	if !tx.Canceled() {
		t.Error("sender should observe the dropped receiver")
	}
	if tx.Send(1) {
		t.Error("send to a dropped receiver should fail")
	}
}

func TestRecv(t *testing.T) {
	tx, rx := New[int]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		tx.Send(9)
	}()
	out, err := rx.Recv(context.Background())
	if err != nil || !out.OK || out.Value != 9 {
		t.Errorf("Recv: %+v %v", out, err)
	}

	_, rx2 := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := rx2.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Recv on idle channel: %v", err)
	}
}
