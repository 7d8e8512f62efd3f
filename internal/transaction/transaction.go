// Package transaction implements the DpaTransaction state machine: one
// instance per in-flight DPA request, computing its completion deadline
// from DPA headers and mesh topology, and tracking the strictly-forward
// Created -> ... -> {Completed, TimedOut, Aborted} transitions.
package transaction

import (
	"fmt"
	"time"

	"github.com/iqrfgd2/daemon/internal/dpa"
)

// State is one point in the transaction lifecycle (spec.md §3).
type State int

const (
	Created State = iota
	Sent
	ConfirmationAwaiting
	ConfirmationReceived
	ResponseAwaiting
	Completed
	TimedOut
	Aborted
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Sent:
		return "sent"
	case ConfirmationAwaiting:
		return "confirmation_awaiting"
	case ConfirmationReceived:
		return "confirmation_received"
	case ResponseAwaiting:
		return "response_awaiting"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is one of the three terminal states.
func (s State) IsTerminal() bool {
	return s == Completed || s == TimedOut || s == Aborted
}

// ErrorCode is the stable wire error taxonomy from spec.md §7.
type ErrorCode int

const (
	ErrOK               ErrorCode = 0
	ErrTimeout          ErrorCode = 1
	ErrAborted          ErrorCode = 2
	ErrNetworkDown      ErrorCode = 3
	ErrMalformedResp    ErrorCode = 4
	ErrExclusiveBusy    ErrorCode = 5
	ErrDriver           ErrorCode = 6
	ErrInvalidRequest   ErrorCode = 7
	ErrUnsupportedMType ErrorCode = 8
	ErrQueueFull        ErrorCode = 9
	ErrAuth             ErrorCode = 10
)

// Timing constants from spec.md §4.2.
const (
	coordinatorLocalTimeout = 100 * time.Millisecond
	hopSlice                = 10 * time.Millisecond
	safetyMargin            = 50 * time.Millisecond
	minTimeout              = 100 * time.Millisecond
	maxTimeout              = 11 * time.Second
)

// Result is the sealed outcome of one transaction (spec.md §3).
// It is constructed empty by the DpaEngine on admission and becomes
// immutable once the transaction reaches a terminal state.
type Result struct {
	RequestFrame      []byte
	ConfirmationFrame []byte
	ResponseFrame     []byte
	ErrorCode         ErrorCode
	ErrorString       string
	RequestTs         time.Time
	ConfirmationTs    time.Time
	ResponseTs        time.Time
	sealed            bool
}

// Sealed reports whether this Result is final.
func (r *Result) Sealed() bool { return r.sealed }

// Transaction is one in-flight DPA request and its state machine.
//
// Transaction is not safe for concurrent use: the DpaEngine worker is the
// sole mutator, by construction (spec.md §3: "the DpaEngine exclusively
// owns ... the currently-executing transaction").
type Transaction struct {
	Request       dpa.Request
	state         State
	timeoutMs     int32 // caller override, -1 = use computed default
	repeat        int
	params        CoordinatorParams
	result      Result
	deadline    time.Time
	hasDeadline bool
}

// CoordinatorParams is the subset of CoordinatorParameters (spec.md §3)
// needed to compute mesh-hop-dependent timeouts. The DpaEngine supplies a
// copy-on-read snapshot at admission time.
type CoordinatorParams struct {
	RoutingHopsRequest  uint8
	RoutingHopsResponse uint8
}

// New creates a Transaction for req. timeoutMs == -1 means "use the
// computed default"; repeat must be >= 1 (the engine treats the initial
// attempt as the first of `repeat`).
func New(req dpa.Request, timeoutMs int32, repeat int, params CoordinatorParams) *Transaction {
	if repeat < 1 {
		repeat = 1
	}
	return &Transaction{
		Request:   req,
		state:     Created,
		timeoutMs: timeoutMs,
		repeat:    repeat,
		params:    params,
	}
}

// State returns the current lifecycle state.
func (t *Transaction) State() State { return t.state }

// Repeat returns the number of admissions remaining (including this one).
func (t *Transaction) Repeat() int { return t.repeat }

// responseTimeoutFromConfirmation computes the post-confirmation deadline:
// hops * timeslot * 10ms + 50ms safety margin, floored/ceiled per spec.
func responseTimeoutFromConfirmation(hops, timeslot uint8) time.Duration {
	d := time.Duration(hops) * time.Duration(timeslot) * hopSlice
	d += safetyMargin
	if d < minTimeout {
		d = minTimeout
	}
	if d > maxTimeout {
		d = maxTimeout
	}
	return d
}

// effectiveTimeout returns computed, unless the caller supplied an
// override (timeoutMs >= 0), in which case the override wins.
func (t *Transaction) effectiveTimeout(computed time.Duration) time.Duration {
	if t.timeoutMs >= 0 {
		return time.Duration(t.timeoutMs) * time.Millisecond
	}
	return computed
}

// Send transitions Created -> Sent, recording the request timestamp and
// computing the initial deadline. For a coordinator-local request this is
// also the final deadline; for a remote request the deadline is
// provisional until a confirmation narrows it.
func (t *Transaction) Send(now time.Time) error {
	if t.state != Created {
		return fmt.Errorf("transaction: Send called in state %s", t.state)
	}
	t.state = Sent
	t.result.RequestTs = now
	t.result.RequestFrame, _ = t.Request.Bytes()

	if t.Request.IsCoordinatorLocal() {
		t.deadline = now.Add(t.effectiveTimeout(coordinatorLocalTimeout))
	} else {
		// Provisional ceiling until the confirmation frame supplies real
		// hop/timeslot figures; the engine re-checks after confirmation.
		t.deadline = now.Add(t.effectiveTimeout(maxTimeout))
	}
	t.hasDeadline = true
	return nil
}

// OnConfirmation processes an inbound confirmation frame. Only valid from
// Sent. Recomputes the deadline from the confirmation's routing fields
// unless the caller supplied an explicit override.
func (t *Transaction) OnConfirmation(now time.Time, resp dpa.Response) error {
	if t.state != Sent {
		return fmt.Errorf("transaction: OnConfirmation called in state %s", t.state)
	}
	routing, err := resp.Routing()
	if err != nil {
		return err
	}
	t.result.ConfirmationFrame = copyBytes(resp)
	t.result.ConfirmationTs = now

	if t.Request.IsBroadcast() {
		t.state = ConfirmationReceived
		return t.completeBroadcast(now)
	}

	t.state = ConfirmationReceived
	if t.timeoutMs >= 0 {
		// The caller's override already fixed the deadline at Send.
		return nil
	}
	computed := responseTimeoutFromConfirmation(routing.HopsRequest, routing.Timeslot)
	t.deadline = now.Add(t.effectiveTimeout(computed))
	return nil
}

// completeBroadcast seals a broadcast transaction at Completed immediately
// after its confirmation, per spec.md invariant 3.
func (t *Transaction) completeBroadcast(now time.Time) error {
	t.state = Completed
	t.result.ErrorCode = ErrOK
	t.result.sealed = true
	return nil
}

// OnResponse processes an inbound (non-confirmation, non-async) response
// frame. Valid from Sent (coordinator-local only) or ConfirmationReceived.
func (t *Transaction) OnResponse(now time.Time, resp dpa.Response) error {
	switch t.state {
	case Sent:
		if !t.Request.IsCoordinatorLocal() {
			return fmt.Errorf("transaction: remote request received response without confirmation")
		}
	case ConfirmationReceived:
		// expected path
	default:
		return fmt.Errorf("transaction: OnResponse called in state %s", t.state)
	}

	if !resp.IsOK() {
		t.result.ResponseFrame = copyBytes(resp)
		t.result.ResponseTs = now
		t.state = Completed
		t.result.ErrorCode = ErrMalformedResp
		t.result.ErrorString = fmt.Sprintf("dpa: response rcode 0x%02x", resp.RCode)
		t.result.sealed = true
		return nil
	}

	t.result.ResponseFrame = copyBytes(resp)
	t.result.ResponseTs = now
	t.state = Completed
	t.result.ErrorCode = ErrOK
	t.result.sealed = true
	return nil
}

// CheckTimeout seals the transaction as TimedOut if now is past the
// deadline and the transaction has not already reached a terminal state.
// Returns true if the transaction was sealed by this call.
func (t *Transaction) CheckTimeout(now time.Time) bool {
	if t.state.IsTerminal() {
		return false
	}
	if !t.hasDeadline || now.Before(t.deadline) {
		return false
	}
	t.state = TimedOut
	t.result.ErrorCode = ErrTimeout
	t.result.ErrorString = "dpa: no response within deadline"
	t.result.sealed = true
	return true
}

// Cancel aborts the transaction. Per spec.md §5, the currently-executing
// transaction may not be cancelled; callers are expected to only call
// Cancel on a not-yet-started (Created) transaction. Abort is reachable
// from any non-terminal state to satisfy the general state-machine rule,
// but the engine enforces the "not currently executing" restriction.
func (t *Transaction) Cancel() error {
	if t.state.IsTerminal() {
		return fmt.Errorf("transaction: Cancel called in terminal state %s", t.state)
	}
	t.state = Aborted
	t.result.ErrorCode = ErrAborted
	t.result.ErrorString = "dpa: transaction aborted"
	t.result.sealed = true
	return nil
}

// Fail force-seals the transaction into the given terminal state and error
// code, used by the owning engine for conditions the frame protocol itself
// cannot express (a Channel going NotReady, a write failure below the
// retry ceiling).
func (t *Transaction) Fail(now time.Time, state State, code ErrorCode, msg string) error {
	if t.state.IsTerminal() {
		return fmt.Errorf("transaction: Fail called in terminal state %s", t.state)
	}
	if !state.IsTerminal() {
		return fmt.Errorf("transaction: Fail requires a terminal state, got %s", state)
	}
	t.state = state
	t.result.ErrorCode = code
	t.result.ErrorString = msg
	t.result.sealed = true
	return nil
}

// Deadline returns the transaction's current absolute deadline and
// whether one has been established yet (it hasn't before Send).
func (t *Transaction) Deadline() (time.Time, bool) { return t.deadline, t.hasDeadline }

// Result returns a copy of the current (possibly unsealed) result.
func (t *Transaction) Result() Result { return t.result }

// Matches reports whether an inbound response frame could complete this
// transaction (spec.md §4.2 frame matching rule): nadr/pnum/pcmd must
// agree and the transaction must be in a state that expects such a frame.
// Async frames never match (checked by the caller before routing here).
func (t *Transaction) Matches(resp dpa.Response) bool {
	if t.state.IsTerminal() {
		return false
	}
	if resp.IsConfirmation() {
		return t.state == Sent && !t.Request.IsCoordinatorLocal()
	}
	if !resp.Matches(t.Request) {
		return false
	}
	switch t.state {
	case Sent:
		return t.Request.IsCoordinatorLocal()
	case ConfirmationReceived:
		return true
	default:
		return false
	}
}

func copyBytes(resp dpa.Response) []byte {
	raw := make([]byte, 0, 8+len(resp.Payload))
	var buf [8]byte
	buf[0] = byte(resp.NAdr)
	buf[1] = byte(resp.NAdr >> 8)
	buf[2] = resp.PNum
	buf[3] = resp.PCmd
	buf[4] = byte(resp.HWPID)
	buf[5] = byte(resp.HWPID >> 8)
	buf[6] = resp.RCode
	buf[7] = resp.DpaVal
	raw = append(raw, buf[:]...)
	raw = append(raw, resp.Payload...)
	return raw
}
