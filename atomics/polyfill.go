package atomics

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/host"
	"github.com/wippyai/wasm-threads/internal/pool"
)

// request asks a helper to wait on a cell and report the result.
type request struct {
	addr     *atomic.Int32
	reply    func(WaitResult)
	timeout  time.Duration
	expected int32
}

// helper is a goroutine that performs blocking waits on behalf of a loop.
type helper struct {
	reqs chan request
	name string
}

func (h *helper) serve() {
	for req := range h.reqs {
		req.reply(Wait(req.addr, req.expected, req.timeout))
	}
}

// HelperPool emulates WaitAsync for one loop with helper goroutines. A
// helper is either idle in the pool or serving exactly one wait.
type HelperPool struct {
	loop     *host.Loop
	helpers  *pool.Pool[*helper]
	log      *zap.Logger
	seq      atomic.Uint64
	longWait time.Duration
}

type polyfillKey struct{}

// Polyfill returns the helper pool of l, creating it on first use with the
// capacity and long-wait threshold from config. The pool is closed when
// the loop exits.
func Polyfill(l *host.Loop) *HelperPool {
	return l.Value(polyfillKey{}, func() any {
		cfg := config.Get()
		p := newHelperPool(l, cfg.HelperCacheSize, cfg.LongWaitWarning)
		l.OnExit(p.Close)
		return p
	}).(*HelperPool)
}

func newHelperPool(l *host.Loop, capacity int, longWait time.Duration) *HelperPool {
	p := &HelperPool{
		loop:     l,
		log:      Logger().With(zap.Uint64("loop", l.ID())),
		longWait: longWait,
	}
	p.helpers = pool.New(capacity, p.spawn, p.destroy)
	return p
}

func (p *HelperPool) spawn() *helper {
	h := &helper{
		name: fmt.Sprintf("wait-helper-%d-%d", p.loop.ID(), p.seq.Add(1)),
		reqs: make(chan request, 1),
	}
	go h.serve()
	p.log.Debug("spawned wait helper", zap.String("helper", h.name))
	return h
}

func (p *HelperPool) destroy(h *helper) {
	close(h.reqs)
	p.log.Debug("terminated wait helper", zap.String("helper", h.name))
}

// Idle returns the number of pooled helpers.
func (p *HelperPool) Idle() int {
	return p.helpers.Len()
}

// Wait hands the wait to a helper and returns a promise resolved on the
// loop. The helper goes back to the pool before the promise resolves.
func (p *HelperPool) Wait(addr *atomic.Int32, expected int32, timeout time.Duration) *host.Promise[WaitResult] {
	h := p.helpers.Get()
	promise, resolve := host.NewPromise[WaitResult](p.loop)
	unref := p.loop.Ref()

	var warn *host.Timer
	if d := p.longWait; d > 0 {
		warn, _ = p.loop.AfterFunc(d, func() {
			p.log.Warn("spawned task wait duration exceeds threshold",
				zap.String("helper", h.name),
				zap.Duration("threshold", d))
		})
	}

	h.reqs <- request{
		addr:     addr,
		expected: expected,
		timeout:  timeout,
		reply: func(res WaitResult) {
			err := p.loop.Post(func() {
				if warn != nil {
					warn.Stop()
				}
				p.helpers.Put(h)
				resolve(res)
				unref()
			})
			if err != nil {
				p.destroy(h)
				unref()
			}
		},
	}
	return promise
}

// Close terminates idle helpers. Helpers still serving a wait terminate
// when they finish.
func (p *HelperPool) Close() {
	p.helpers.Close()
}
