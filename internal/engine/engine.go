// Package engine implements the DpaEngine: admission ordering, exclusive
// access arbitration, async-notification fan-out and the coordinator
// parameter cache, driving one DpaTransaction at a time against a Channel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/iqrfgd2/daemon/internal/channel"
	"github.com/iqrfgd2/daemon/internal/dpa"
	"github.com/iqrfgd2/daemon/internal/logger"
	"github.com/iqrfgd2/daemon/internal/metrics"
	"github.com/iqrfgd2/daemon/internal/telemetry"
	"github.com/iqrfgd2/daemon/internal/transaction"
)

// NotReadyPolicy decides what happens to queued (not-yet-admitted) jobs
// when the Channel goes NotReady (spec.md §4.3 failure semantics leaves
// this as an implementation choice to document).
type NotReadyPolicy int

const (
	// HoldUntilRecovery keeps queued jobs pending until the Channel
	// returns to Ready. This is the default (see DESIGN.md open questions).
	HoldUntilRecovery NotReadyPolicy = iota
	// FailFast immediately fails every queued job with ErrNetworkDown.
	FailFast
)

var (
	ErrExclusiveBusy = errors.New("engine: exclusive access already held")
	ErrNotHolder     = errors.New("engine: handle is not the current exclusive holder")
	ErrEngineStopped = errors.New("engine: stopped")
)

const timeoutPollInterval = 10 * time.Millisecond

// Options configures a new Engine.
type Options struct {
	// QueueCapacity bounds the normal-priority submission queue.
	QueueCapacity int
	// NotReadyPolicy governs queued-job handling during Channel downtime.
	NotReadyPolicy NotReadyPolicy
	// Metrics records transaction/exclusive-hold observations. A nil
	// value (the zero value) is a safe no-op.
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 64
	}
	return o
}

type inboundEvent struct {
	resp dpa.Response
	down bool
}

type job struct {
	ctx       context.Context
	req       dpa.Request
	timeoutMs int32
	repeat    int
	resultCh  chan transaction.Result
}

type runningTx struct {
	tr  *transaction.Transaction
	job *job
}

type asyncSub struct {
	id string
	fn func(dpa.Response)
}

// Engine is the DpaEngine. Exactly one worker goroutine owns all mutable
// transaction state; all other state (coordinator cache, subscriber list,
// exclusive-holder flag) is synchronized independently so callers on other
// goroutines can query it without touching the worker.
type Engine struct {
	ch     *channel.Channel
	opts   Options
	cache  *coordinatorCache
	token  channel.AccessToken
	exTok  atomic.Pointer[channel.AccessToken]
	holder atomic.Pointer[exclusiveHandleID]

	inbound     chan inboundEvent
	normalCh    chan *job
	exclusiveCh chan *job
	shutdownCh  chan struct{}
	doneCh      chan struct{}
	startOnce   sync.Once
	stopOnce    sync.Once

	subsMu sync.Mutex
	subs   []asyncSub
}

type exclusiveHandleID struct{ n uint64 }

// ExclusiveHandle represents held exclusive access, acquired via
// AcquireExclusive. Release must be called exactly once.
type ExclusiveHandle struct {
	eng        *Engine
	id         *exclusiveHandleID
	acquiredAt time.Time
}

// New creates an Engine bound to ch. Run must be called before Submit.
func New(ch *channel.Channel, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		ch:          ch,
		opts:        opts,
		cache:       newCoordinatorCache(),
		inbound:     make(chan inboundEvent, 256),
		normalCh:    make(chan *job, opts.QueueCapacity),
		exclusiveCh: make(chan *job, 1),
		shutdownCh:  make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Run registers the engine's Normal-mode Channel slot and starts the
// single worker goroutine. It returns once registration succeeds; the
// worker keeps running until Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	var runErr error
	e.startOnce.Do(func() {
		tok, err := e.ch.GetAccess(channel.Normal, e.onReceive)
		if err != nil {
			runErr = fmt.Errorf("engine: acquire normal channel access: %w", err)
			return
		}
		e.token = tok
		go e.run(ctx)
	})
	return runErr
}

// Stop halts the worker and releases the Channel slot. Queued and
// in-flight jobs are failed with ErrEngineStopped.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.shutdownCh)
		<-e.doneCh
		_ = e.ch.Drop(e.token)
	})
}

// Params returns a consistent copy-on-read snapshot of the coordinator
// parameter cache.
func (e *Engine) Params() CoordinatorParameters { return e.cache.snapshot() }

// Subscribe registers fn to receive every asynchronous (unsolicited)
// response frame, in registration order relative to other subscribers.
// fn must not call back into the Engine synchronously.
func (e *Engine) Subscribe(id string, fn func(dpa.Response)) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subs = append(e.subs, asyncSub{id: id, fn: fn})
}

// Unsubscribe removes a previously registered async subscriber.
func (e *Engine) Unsubscribe(id string) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// Submit enqueues req and blocks until the resulting transaction seals (or
// ctx is cancelled, or the engine stops). timeoutMs == -1 uses the
// computed default; repeat must be >= 1.
func (e *Engine) Submit(ctx context.Context, req dpa.Request, timeoutMs int32, repeat int) (transaction.Result, error) {
	return e.submit(ctx, req, timeoutMs, repeat, e.normalCh)
}

// SubmitExclusive behaves like Submit but bypasses the normal FIFO queue,
// valid only while the caller holds h.
func (e *Engine) SubmitExclusive(ctx context.Context, h *ExclusiveHandle, req dpa.Request, timeoutMs int32, repeat int) (transaction.Result, error) {
	if e.holder.Load() != h.id {
		return transaction.Result{}, ErrNotHolder
	}
	return e.submit(ctx, req, timeoutMs, repeat, e.exclusiveCh)
}

func (e *Engine) submit(ctx context.Context, req dpa.Request, timeoutMs int32, repeat int, queue chan *job) (transaction.Result, error) {
	ctx, span := telemetry.StartTransactionSpan(ctx, req.NAdr, req.PNum, req.PCmd, telemetry.HWPID(req.HWPID))
	defer span.End()
	start := time.Now()

	j := &job{ctx: ctx, req: req, timeoutMs: timeoutMs, repeat: repeat, resultCh: make(chan transaction.Result, 1)}
	// Bounded wait on the caller's context, matching the suspension point
	// described for ApiHandler submission (spec.md §5); the queue itself
	// is never failed eagerly, only the context can give up on it.
	select {
	case queue <- j:
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return transaction.Result{}, ctx.Err()
	case <-e.shutdownCh:
		span.SetStatus(codes.Error, ErrEngineStopped.Error())
		return transaction.Result{}, ErrEngineStopped
	}

	select {
	case res := <-j.resultCh:
		if res.ErrorCode != transaction.ErrOK {
			span.SetStatus(codes.Error, res.ErrorString)
		}
		e.opts.Metrics.RecordTransaction(strconv.Itoa(int(res.ErrorCode)), time.Since(start).Seconds())
		return res, nil
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return transaction.Result{}, ctx.Err()
	case <-e.shutdownCh:
		span.SetStatus(codes.Error, ErrEngineStopped.Error())
		return transaction.Result{}, ErrEngineStopped
	}
}

// AcquireExclusive grants exclusive submission priority to the caller.
// Fails with ErrExclusiveBusy if already held.
func (e *Engine) AcquireExclusive() (*ExclusiveHandle, error) {
	id := &exclusiveHandleID{}
	if !e.holder.CompareAndSwap(nil, id) {
		return nil, ErrExclusiveBusy
	}
	tok, err := e.ch.GetAccess(channel.Exclusive, e.onReceive)
	if err != nil {
		e.holder.Store(nil)
		return nil, fmt.Errorf("engine: acquire exclusive channel access: %w", err)
	}
	e.exTok.Store(&tok)
	return &ExclusiveHandle{eng: e, id: id, acquiredAt: time.Now()}, nil
}

// Release gives up exclusive access, resuming normal queue processing.
func (h *ExclusiveHandle) Release() error {
	if h.eng.holder.Load() != h.id {
		return ErrNotHolder
	}
	if tok := h.eng.exTok.Load(); tok != nil {
		_ = h.eng.ch.Drop(*tok)
	}
	h.eng.opts.Metrics.RecordExclusiveHold(time.Since(h.acquiredAt).Seconds())
	h.eng.exTok.Store(nil)
	h.eng.holder.Store(nil)
	return nil
}

// onReceive is invoked on the Channel's reader goroutine; it must not
// block, so inbound events are funneled through a buffered channel with a
// non-blocking send.
func (e *Engine) onReceive(frame []byte, down bool) {
	if down {
		select {
		case e.inbound <- inboundEvent{down: true}:
		default:
			logger.Warn("engine: inbound event queue full, dropping channel-down notification")
		}
		return
	}
	resp, err := dpa.ParseResponse(frame)
	if err != nil {
		logger.Warn("engine: malformed inbound frame, dropping", logger.Err(err), logger.FrameHex(frame))
		return
	}
	select {
	case e.inbound <- inboundEvent{resp: resp}:
	default:
		logger.Warn("engine: inbound event queue full, dropping frame", logger.FrameHex(frame))
	}
}

// run is the single worker loop: it owns `current` exclusively and is the
// only goroutine that ever touches a Transaction after admission.
func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	var current *runningTx
	ticker := time.NewTicker(timeoutPollInterval)
	defer ticker.Stop()

	for {
		var admitNormal, admitExclusive chan *job
		if current == nil {
			admitExclusive = e.exclusiveCh
			if e.holder.Load() == nil {
				admitNormal = e.normalCh
			}
		}

		select {
		case <-e.shutdownCh:
			e.drainShutdown(current)
			return

		case ev := <-e.inbound:
			current = e.handleInbound(ev, current)

		case <-ticker.C:
			if current != nil && current.tr.CheckTimeout(time.Now()) {
				current = e.finish(current)
			}

		case j := <-admitExclusive:
			current = e.admit(j, channel.Exclusive)

		case j := <-admitNormal:
			current = e.admit(j, channel.Normal)
		}
	}
}

// admit starts j as the current transaction: builds it from the live
// coordinator snapshot, sends the request frame, and seals immediately on
// a hard write failure.
func (e *Engine) admit(j *job, mode channel.Mode) *runningTx {
	params := e.cache.snapshot()
	tr := transaction.New(j.req, j.timeoutMs, j.repeat, CoordinatorParams(params))
	now := time.Now()
	if err := tr.Send(now); err != nil {
		logger.Error("engine: transaction send precondition violated", logger.Err(err))
	}

	if err := e.ch.Send(j.ctx, mustBytes(j.req), mode); err != nil {
		_ = tr.Fail(time.Now(), transaction.TimedOut, transaction.ErrNetworkDown, err.Error())
		return e.finish(&runningTx{tr: tr, job: j})
	}
	return &runningTx{tr: tr, job: j}
}

// CoordinatorParams adapts the engine's coordinator snapshot into the
// narrower view transaction.New needs.
func CoordinatorParams(p CoordinatorParameters) transaction.CoordinatorParams {
	return transaction.CoordinatorParams{
		RoutingHopsRequest:  p.RoutingHopsRequest,
		RoutingHopsResponse: p.RoutingHopsResp,
	}
}

func mustBytes(req dpa.Request) []byte {
	b, _ := req.Bytes()
	return b
}

// handleInbound routes one inbound event to the current transaction (if
// any), to async subscribers, or drops it as unsolicited.
func (e *Engine) handleInbound(ev inboundEvent, current *runningTx) *runningTx {
	now := time.Now()

	if ev.down {
		if current != nil {
			_ = current.tr.Fail(now, transaction.TimedOut, transaction.ErrNetworkDown, "channel down")
			current = e.finish(current)
		}
		if e.opts.NotReadyPolicy == FailFast {
			e.drainQueueWithError(transaction.ErrNetworkDown, "channel down")
		}
		return current
	}

	if ev.resp.IsAsync() {
		e.publishAsync(ev.resp)
		return current
	}

	if current == nil || !current.tr.Matches(ev.resp) {
		logger.Debug("engine: unsolicited frame dropped", logger.FrameHex(rawResponseBytes(ev.resp)))
		return current
	}

	if ev.resp.IsConfirmation() {
		if err := current.tr.OnConfirmation(now, ev.resp); err != nil {
			logger.Error("engine: OnConfirmation failed", logger.Err(err))
		}
		e.maybeRefreshFromConfirmation(ev.resp)
		if current.tr.State().IsTerminal() {
			return e.finish(current)
		}
		return current
	}

	if err := current.tr.OnResponse(now, ev.resp); err != nil {
		logger.Error("engine: OnResponse failed", logger.Err(err))
		return current
	}
	e.maybeRefreshFromResponse(ev.resp)
	return e.finish(current)
}

// finish delivers the sealed result to the job's caller, or, if the
// transaction ended in a non-success non-aborted state and retries remain,
// re-admits the same request immediately with no delay (spec.md §4.3).
func (e *Engine) finish(rt *runningTx) *runningTx {
	res := rt.tr.Result()
	if res.ErrorCode != transaction.ErrOK && res.ErrorCode != transaction.ErrAborted && rt.job.repeat > 1 {
		next := &job{ctx: rt.job.ctx, req: rt.job.req, timeoutMs: rt.job.timeoutMs, repeat: rt.job.repeat - 1, resultCh: rt.job.resultCh}
		mode := channel.Normal
		if e.holder.Load() != nil {
			mode = channel.Exclusive
		}
		return e.admit(next, mode)
	}
	select {
	case rt.job.resultCh <- res:
	default:
	}
	return nil
}

func (e *Engine) publishAsync(resp dpa.Response) {
	e.subsMu.Lock()
	subs := append([]asyncSub(nil), e.subs...)
	e.subsMu.Unlock()
	for _, s := range subs {
		s.fn(resp)
	}
}

func (e *Engine) drainShutdown(current *runningTx) {
	if current != nil {
		_ = current.tr.Fail(time.Now(), transaction.Aborted, transaction.ErrAborted, "engine stopped")
		select {
		case current.job.resultCh <- current.tr.Result():
		default:
		}
	}
	e.drainQueueWithError(transaction.ErrAborted, "engine stopped")
}

func (e *Engine) drainQueueWithError(code transaction.ErrorCode, msg string) {
	for {
		select {
		case j := <-e.normalCh:
			e.failQueued(j, code, msg)
		case j := <-e.exclusiveCh:
			e.failQueued(j, code, msg)
		default:
			return
		}
	}
}

func (e *Engine) failQueued(j *job, code transaction.ErrorCode, msg string) {
	tr := transaction.New(j.req, j.timeoutMs, j.repeat, transaction.CoordinatorParams{})
	_ = tr.Fail(time.Now(), transaction.TimedOut, code, msg)
	select {
	case j.resultCh <- tr.Result():
	default:
	}
}

// maybeRefreshFromResponse updates the coordinator cache when resp answers
// one of the known coordinator-parameter-bearing requests.
func (e *Engine) maybeRefreshFromResponse(resp dpa.Response) {
	if resp.PNum == pnumOS && resp.RequestPCmd() == cmdOSRead && len(resp.Payload) >= 5 {
		e.cache.update(func(p *CoordinatorParameters) {
			p.OSVersion = resp.Payload[0]
			p.TrType = resp.Payload[1]
			p.OSBuild = uint16(resp.Payload[3])<<8 | uint16(resp.Payload[2])
		})
		return
	}
	if resp.PNum != pnumCoordinator {
		return
	}
	switch resp.RequestPCmd() {
	case cmdCoordinatorBondedDevs, cmdCoordinatorDiscoveredDs:
		e.cache.update(func(p *CoordinatorParameters) {
			set := p.BondedDevices
			if resp.RequestPCmd() == cmdCoordinatorDiscoveredDs {
				set = p.DiscoveredDevices
			}
			for i, b := range resp.Payload {
				for bit := 0; bit < 8; bit++ {
					if b&(1<<uint(bit)) != 0 {
						set[uint8(i*8+bit)] = struct{}{}
					}
				}
			}
		})
	case cmdCoordinatorSetHops:
		if len(resp.Payload) >= 2 {
			e.cache.update(func(p *CoordinatorParameters) {
				p.RoutingHopsRequest = resp.Payload[0]
				p.RoutingHopsResp = resp.Payload[1]
			})
		}
	}
}

// maybeRefreshFromConfirmation folds newly observed routing hops into the
// cache so subsequent default-timeout computations reflect current topology.
func (e *Engine) maybeRefreshFromConfirmation(resp dpa.Response) {
	routing, err := resp.Routing()
	if err != nil {
		return
	}
	e.cache.update(func(p *CoordinatorParameters) {
		p.RoutingHopsRequest = routing.HopsRequest
		p.RoutingHopsResp = routing.HopsResponse
	})
}

func rawResponseBytes(resp dpa.Response) []byte {
	b := make([]byte, 0, 8+len(resp.Payload))
	b = append(b, byte(resp.NAdr), byte(resp.NAdr>>8), resp.PNum, resp.PCmd, byte(resp.HWPID), byte(resp.HWPID>>8), resp.RCode, resp.DpaVal)
	return append(b, resp.Payload...)
}
