package auth

import (
	"context"
	"encoding/json"

	"github.com/iqrfgd2/daemon/internal/splitter"
)

// inboundEnvelope captures only the fields an AuthenticatingDispatcher
// needs to read off an otherwise-opaque JSON-RPC request.
type inboundEnvelope struct {
	MType string `json:"mType"`
	Data  struct {
		MsgID       string `json:"msgId"`
		AccessToken string `json:"accessToken"`
	} `json:"data"`
}

// errAuthStatus is the stable wire status code for auth failures
// (spec.md §7, row 10).
const errAuthStatus = 10

// Dispatcher is the inner stage an AuthenticatingDispatcher wraps. The
// transport package's Dispatcher interface is identical; a local
// definition avoids a dependency from this package on transport.
type Dispatcher interface {
	Dispatch(raw json.RawMessage, sender splitter.Sender)
}

// AuthenticatingDispatcher checks data.accessToken against a Gate before
// forwarding a message to the wrapped Dispatcher. On failure it writes a
// synthetic error_Auth response back through sender instead of dispatching.
// Satisfies transport.Dispatcher, so it can be passed directly to any
// NewXServer constructor in place of a bare *splitter.Splitter.
type AuthenticatingDispatcher struct {
	inner Dispatcher
	gate  *Gate
}

// NewAuthenticatingDispatcher wraps inner with gate. A nil gate makes
// every message pass through unchecked.
func NewAuthenticatingDispatcher(inner Dispatcher, gate *Gate) *AuthenticatingDispatcher {
	return &AuthenticatingDispatcher{inner: inner, gate: gate}
}

func (d *AuthenticatingDispatcher) Dispatch(raw json.RawMessage, sender splitter.Sender) {
	if d.gate == nil {
		d.inner.Dispatch(raw, sender)
		return
	}

	var env inboundEnvelope
	msgID := ""
	if err := json.Unmarshal(raw, &env); err == nil {
		msgID = env.Data.MsgID
	}

	if _, err := d.gate.Check(context.Background(), []byte(env.Data.AccessToken)); err != nil {
		_ = sender.Send(splitter.Response{
			MType: env.MType,
			Data:  splitter.ResponseData{MsgID: msgID, Status: errAuthStatus, StatusStr: "error_Auth: " + err.Error()},
		})
		return
	}

	d.inner.Dispatch(raw, sender)
}
