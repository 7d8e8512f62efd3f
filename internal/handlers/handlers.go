// Package handlers implements ApiHandlers: per-message-type adapters that
// parse a splitter.Request, ask a DriverSandbox to encode a DPA frame,
// submit it to the DpaEngine, await the sealed result, ask the
// DriverSandbox to decode the response, and hand the Response back to the
// MessageSplitter (spec.md §4.6).
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iqrfgd2/daemon/internal/dpa"
	"github.com/iqrfgd2/daemon/internal/logger"
	"github.com/iqrfgd2/daemon/internal/sandbox"
	"github.com/iqrfgd2/daemon/internal/splitter"
	"github.com/iqrfgd2/daemon/internal/transaction"
)

// Engine is the subset of *engine.Engine an ApiHandler needs.
type Engine interface {
	Submit(ctx context.Context, req dpa.Request, timeoutMs int32, repeat int) (transaction.Result, error)
}

// Driver is the subset of *sandbox.Sandbox an ApiHandler needs.
type Driver interface {
	Encode(functionName, paramsJSON string) ([]byte, error)
	Decode(functionName string, frame []byte) (string, error)
}

// Spec binds one message-type to the DPA addressing and driver functions
// that realize it. A thin data-driven alternative to one struct type per
// peripheral command, matching the spec's "concrete data + functions"
// design note (spec.md §9).
type Spec struct {
	MType       string
	PNum        uint8
	PCmd        uint8
	EncodeFunc  string // dot-path into the driver object graph
	DecodeFunc  string
	DefaultNAdr *uint16 // nil: nAdr must be supplied by the caller in req.nAdr
}

// reqEnvelope is the `data.req` shape every ApiHandler accepts: the
// per-peripheral fields plus the addressing fields common to all of them.
type reqEnvelope struct {
	NAdr  *uint16         `json:"nAdr"`
	HWPID *uint16         `json:"hwpId"`
	Param json.RawMessage `json:"param"`
}

// Handler is one ApiHandler bound to a Spec.
type Handler struct {
	spec   Spec
	eng    Engine
	driver Driver
}

// New creates a Handler for spec, backed by eng and driver.
func New(spec Spec, eng Engine, driver Driver) *Handler {
	return &Handler{spec: spec, eng: eng, driver: driver}
}

// Handle implements splitter.Handler: parse -> encode -> submit -> decode -> emit.
func (h *Handler) Handle(req splitter.Request) splitter.Response {
	ctx := context.Background()
	msgID := req.Data.MsgID
	verbose := req.Data.ReturnVerbose

	var envelope reqEnvelope
	if len(req.Data.Req) > 0 {
		if err := json.Unmarshal(req.Data.Req, &envelope); err != nil {
			return h.errorResponse(req.MType, msgID, transaction.ErrInvalidRequest, fmt.Sprintf("malformed req: %s", err))
		}
	}

	nadr, err := h.resolveAddr(envelope)
	if err != nil {
		return h.errorResponse(req.MType, msgID, transaction.ErrInvalidRequest, err.Error())
	}

	hwpid := uint16(dpa.HWPIDWildcard)
	if envelope.HWPID != nil {
		hwpid = *envelope.HWPID
	}

	paramsJSON := string(envelope.Param)
	if paramsJSON == "" {
		paramsJSON = "{}"
	}

	payload, err := h.driver.Encode(h.spec.EncodeFunc, paramsJSON)
	if err != nil {
		return h.errorResponse(req.MType, msgID, transaction.ErrDriver, err.Error())
	}

	dpaReq := dpa.Request{NAdr: nadr, PNum: h.spec.PNum, PCmd: h.spec.PCmd, HWPID: hwpid, Payload: payload}

	timeoutMs := int32(-1)
	if req.Data.Timeout != nil {
		timeoutMs = *req.Data.Timeout
	}
	repeat := 1
	if req.Data.Repeat != nil && *req.Data.Repeat >= 1 {
		repeat = *req.Data.Repeat
	}

	result, err := h.eng.Submit(ctx, dpaReq, timeoutMs, repeat)
	if err != nil {
		logger.ErrorCtx(ctx, "handler: engine submit failed", logger.MType(h.spec.MType), logger.MsgID(msgID), logger.Err(err))
		return h.errorResponse(req.MType, msgID, transaction.ErrNetworkDown, err.Error())
	}

	resp := splitter.Response{
		MType: req.MType,
		Data: splitter.ResponseData{
			MsgID:  msgID,
			Status: int(result.ErrorCode),
		},
	}

	if result.ErrorCode != transaction.ErrOK {
		resp.Data.StatusStr = errorString(result.ErrorCode, result.ErrorString)
	} else if len(result.ResponseFrame) >= dpa.ResponseHeaderLength {
		// The full frame (including rcode/dpaval) is handed to the driver:
		// some responses (e.g. Coordinator AddrInfo) carry part of their
		// payload in the dpaval byte, not just the trailing payload bytes.
		rspJSON, err := h.driver.Decode(h.spec.DecodeFunc, result.ResponseFrame)
		if err != nil {
			return h.errorResponse(req.MType, msgID, transaction.ErrDriver, err.Error())
		}
		var rsp any
		if jsonErr := json.Unmarshal([]byte(rspJSON), &rsp); jsonErr == nil {
			resp.Data.Rsp = rsp
		}
	}

	if verbose {
		resp.Data.StatusStr = statusStrOr(resp.Data.StatusStr, result.ErrorCode)
		resp.Data.Raw = &splitter.RawTrace{
			Request:        logger.DotHex(result.RequestFrame),
			RequestTs:      splitter.FormatTs(result.RequestTs),
			Confirmation:   logger.DotHex(result.ConfirmationFrame),
			ConfirmationTs: splitter.FormatTs(result.ConfirmationTs),
			Response:       logger.DotHex(result.ResponseFrame),
			ResponseTs:     splitter.FormatTs(result.ResponseTs),
		}
	}

	return resp
}

func (h *Handler) resolveAddr(envelope reqEnvelope) (uint16, error) {
	if envelope.NAdr != nil {
		return *envelope.NAdr, nil
	}
	if h.spec.DefaultNAdr != nil {
		return *h.spec.DefaultNAdr, nil
	}
	return 0, fmt.Errorf("missing required field: req.nAdr")
}

func (h *Handler) errorResponse(mType, msgID string, code transaction.ErrorCode, msg string) splitter.Response {
	return splitter.Response{
		MType: mType,
		Data: splitter.ResponseData{
			MsgID:     msgID,
			Status:    int(code),
			StatusStr: errorString(code, msg),
		},
	}
}

func statusStrOr(existing string, code transaction.ErrorCode) string {
	if existing != "" {
		return existing
	}
	return errorString(code, "")
}

func errorString(code transaction.ErrorCode, detail string) string {
	base := map[transaction.ErrorCode]string{
		transaction.ErrOK:               "ok",
		transaction.ErrTimeout:          "error_Timeout",
		transaction.ErrAborted:          "error_Aborted",
		transaction.ErrNetworkDown:      "error_NetworkDown",
		transaction.ErrMalformedResp:    "error_MalformedResponse",
		transaction.ErrExclusiveBusy:    "error_ExclusiveBusy",
		transaction.ErrDriver:           "error_Driver",
		transaction.ErrInvalidRequest:   "error_InvalidMsg",
		transaction.ErrUnsupportedMType: "error_UnsupportedMsg",
		transaction.ErrQueueFull:        "error_MessageQueueFull",
		transaction.ErrAuth:             "error_Auth",
	}[code]
	if base == "" {
		base = "error_Unknown"
	}
	if detail == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, detail)
}

var _ Driver = (*sandbox.Sandbox)(nil)
