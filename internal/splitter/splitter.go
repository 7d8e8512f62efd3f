// Package splitter implements the MessageSplitter: JSON ingress dispatch
// by message-type prefix, schema validation, outbound correlation back to
// the originating transport, and transport send-queue backpressure.
package splitter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iqrfgd2/daemon/internal/logger"
)

// Request is one parsed inbound JSON-RPC message (spec.md §6 wire format).
type Request struct {
	MType string          `json:"mType"`
	Data  RequestData     `json:"data"`
	Raw   json.RawMessage `json:"-"`
}

// RequestData is the `data` object of an inbound message.
type RequestData struct {
	MsgID         string          `json:"msgId"`
	Timeout       *int32          `json:"timeout,omitempty"`
	ReturnVerbose bool            `json:"returnVerbose,omitempty"`
	Req           json.RawMessage `json:"req,omitempty"`
	Repeat        *int            `json:"repeat,omitempty"`
}

// Response is an outbound JSON-RPC message (spec.md §6 wire format).
type Response struct {
	MType string       `json:"mType"`
	Data  ResponseData `json:"data"`
}

// ResponseData is the `data` object of an outbound message.
type ResponseData struct {
	MsgID     string    `json:"msgId"`
	Status    int       `json:"status"`
	StatusStr string    `json:"statusStr,omitempty"`
	Raw       *RawTrace `json:"raw,omitempty"`
	Rsp       any       `json:"rsp,omitempty"`
}

// InvalidMsgRsp is the `data.rsp` payload of an error_InvalidMsg response
// (spec.md §8 scenario 6).
type InvalidMsgRsp struct {
	Direction       string `json:"direction"`
	ViolatingMember string `json:"violatingMember"`
	Violation       string `json:"violation"`
}

// QueueFullRsp is the `data.rsp` payload of an error_MessageQueueFull
// response (spec.md §4.5 backpressure).
type QueueFullRsp struct {
	QueueType   string `json:"queueType"`
	QueueLength int    `json:"queueLength"`
}

// RawTrace carries the verbose frame trail (spec.md §4.5 outbound contract).
type RawTrace struct {
	Request        string `json:"request,omitempty"`
	RequestTs      string `json:"requestTs,omitempty"`
	Confirmation   string `json:"confirmation,omitempty"`
	ConfirmationTs string `json:"confirmationTs,omitempty"`
	Response       string `json:"response,omitempty"`
	ResponseTs     string `json:"responseTs,omitempty"`
}

// TimestampLayout is the microsecond timestamp format used in RawTrace
// fields (spec.md §4.5).
const TimestampLayout = "2006-01-02T15:04:05.000000"

// FormatTs renders t per the wire format, or "" for a zero time.
func FormatTs(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimestampLayout)
}

// Status codes mirrored from the transaction error taxonomy for messages
// MessageSplitter itself originates (unsupported/invalid/queue-full are
// splitter-level, not transaction-level, failures).
const (
	StatusOK              = 0
	StatusUnsupportedMsg  = 8
	StatusInvalidMsg      = 7
	StatusMessageQueueFull = 9
)

// Handler processes one inbound Request and returns the Response to emit.
// Handlers must not block indefinitely; submission to the DpaEngine is the
// expected suspension point.
type Handler interface {
	Handle(req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req Request) Response

func (f HandlerFunc) Handle(req Request) Response { return f(req) }

// Sender delivers an outbound Response back to its originating transport.
// Implementations apply their own bounded-queue backpressure.
type Sender interface {
	Send(resp Response) error
}

// Validator checks req/resp against the JSON schema registered for an
// mType. A nil Validator disables validation (tests, or transports that
// pre-validate upstream).
type Validator interface {
	ValidateRequest(mType string, raw json.RawMessage) error
	ValidateResponse(mType string, resp Response) error
}

type registration struct {
	prefix  string
	handler Handler
}

// Splitter is the MessageSplitter. Safe for concurrent use: handler
// registration happens at startup (typically single-threaded), dispatch is
// read-only over the registration table thereafter.
type Splitter struct {
	mu            sync.RWMutex
	registrations []registration
	validator     Validator
}

// New creates an empty Splitter. validator may be nil.
func New(validator Validator) *Splitter {
	return &Splitter{validator: validator}
}

// Register binds handler to every prefix in prefixes. Returns an error if
// any prefix is already registered to exactly that string (ambiguity,
// spec.md §4.5: "two handlers may not register identical filters").
func (s *Splitter) Register(handler Handler, prefixes ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range prefixes {
		for _, existing := range s.registrations {
			if existing.prefix == p {
				return fmt.Errorf("splitter: prefix %q already registered", p)
			}
		}
	}
	for _, p := range prefixes {
		s.registrations = append(s.registrations, registration{prefix: p, handler: handler})
	}
	// Longest-prefix-first so Dispatch's linear scan finds the longest
	// match without per-call sorting.
	sort.SliceStable(s.registrations, func(i, j int) bool {
		return len(s.registrations[i].prefix) > len(s.registrations[j].prefix)
	})
	return nil
}

// Dispatch parses raw as a Request, validates it, routes it to the
// handler whose longest registered prefix matches mType, validates the
// handler's Response, and delivers it via sender. Every failure path
// still produces and sends a Response, matching spec.md §4.5/§4.6.
func (s *Splitter) Dispatch(raw json.RawMessage, sender Sender) {
	req, err := parseRequest(raw)
	if err != nil {
		logger.Warn("splitter: malformed inbound message", logger.Err(err))
		_ = sender.Send(invalidMsgResponse("", "request", "", err.Error()))
		return
	}

	if err := s.validateRequest(req.MType, raw); err != nil {
		_ = sender.Send(invalidMsgResponse(req.Data.MsgID, "request", violatingMember(err), err.Error()))
		return
	}

	handler := s.lookup(req.MType)
	if handler == nil {
		_ = sender.Send(unsupportedMsgResponse(req.Data.MsgID))
		return
	}

	resp := handler.Handle(req)

	if err := s.validateResponse(req.MType, resp); err != nil {
		_ = sender.Send(invalidMsgResponse(req.Data.MsgID, "response", violatingMember(err), err.Error()))
		return
	}

	if err := sender.Send(resp); err != nil {
		logger.Warn("splitter: outbound send failed", logger.MType(req.MType), logger.MsgID(req.Data.MsgID), logger.Err(err))
	}
}

func parseRequest(raw json.RawMessage) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("splitter: invalid json: %w", err)
	}
	if req.MType == "" {
		return Request{}, fmt.Errorf("splitter: missing mType")
	}
	if req.Data.MsgID == "" {
		return Request{}, fmt.Errorf("splitter: missing data.msgId")
	}
	req.Raw = raw
	return req, nil
}

func (s *Splitter) lookup(mType string) Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, reg := range s.registrations {
		if strings.HasPrefix(mType, reg.prefix) {
			return reg.handler
		}
	}
	return nil
}

func (s *Splitter) validateRequest(mType string, raw json.RawMessage) error {
	if s.validator == nil {
		return nil
	}
	return s.validator.ValidateRequest(mType, raw)
}

func (s *Splitter) validateResponse(mType string, resp Response) error {
	if s.validator == nil {
		return nil
	}
	return s.validator.ValidateResponse(mType, resp)
}

// error_UnsupportedMsg, error_InvalidMsg and error_MessageQueueFull are
// synthetic mTypes the splitter itself originates, never echoing the
// request's mType (spec.md §8 scenarios 5-6).
const (
	MTypeUnsupportedMsg = "error_UnsupportedMsg"
	MTypeInvalidMsg     = "error_InvalidMsg"
	MTypeQueueFull      = "error_MessageQueueFull"
)

func unsupportedMsgResponse(msgID string) Response {
	return Response{
		MType: MTypeUnsupportedMsg,
		Data: ResponseData{
			MsgID:     msgID,
			Status:    StatusUnsupportedMsg,
			StatusStr: MTypeUnsupportedMsg,
		},
	}
}

func invalidMsgResponse(msgID, direction, violatingMember, violation string) Response {
	return Response{
		MType: MTypeInvalidMsg,
		Data: ResponseData{
			MsgID:     msgID,
			Status:    StatusInvalidMsg,
			StatusStr: MTypeInvalidMsg,
			Rsp: InvalidMsgRsp{
				Direction:       direction,
				ViolatingMember: violatingMember,
				Violation:       violation,
			},
		},
	}
}

// QueueFullResponse builds the synthetic error_MessageQueueFull response
// for a transport whose bounded send queue rejected an enqueue.
func QueueFullResponse(msgID, queueType string, queueLength int) Response {
	return Response{
		MType: MTypeQueueFull,
		Data: ResponseData{
			MsgID:     msgID,
			Status:    StatusMessageQueueFull,
			StatusStr: MTypeQueueFull,
			Rsp:       QueueFullRsp{QueueType: queueType, QueueLength: queueLength},
		},
	}
}

// violatingMember extracts a best-effort field name from a validator
// error; callers that need precise field attribution should have their
// Validator implementation return a *FieldError instead.
func violatingMember(err error) string {
	if fe, ok := err.(*FieldError); ok {
		return fe.Field
	}
	return ""
}

// FieldError is a structured validation error identifying the offending
// JSON member, so Dispatch can populate violatingMember precisely.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Message }
