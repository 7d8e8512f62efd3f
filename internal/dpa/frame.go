// Package dpa implements the binary DPA frame format: parsing, building,
// and the header-level invariants of requests, confirmations and
// responses exchanged with the IQRF coordinator over the serial Channel.
package dpa

import (
	"encoding/binary"
	"fmt"
)

const (
	// MaxFrameLength is the largest a DPA frame may be (header + payload).
	MaxFrameLength = 64

	// RequestHeaderLength is nadr(2) + pnum(1) + pcmd(1) + hwpid(2).
	RequestHeaderLength = 6

	// ResponseHeaderLength additionally carries rcode(1) + dpaval(1).
	ResponseHeaderLength = 8

	// CoordinatorAddr is the network address of the coordinator itself.
	CoordinatorAddr = 0x0000

	// BroadcastAddr is the network address that addresses every node; a
	// broadcast request never produces a response, only a confirmation.
	BroadcastAddr = 0xFFFF

	// HWPIDWildcard matches any hardware profile.
	HWPIDWildcard = 0xFFFF

	// ResponseBit is OR-ed into pcmd to turn a request command into the
	// corresponding response command.
	ResponseBit = 0x80

	// AsyncBit set in rcode marks an unsolicited (asynchronous) response.
	AsyncBit = 0x80

	// RCodeOK is the success response code.
	RCodeOK = 0x00

	// RCodeConfirmation is the rcode value carried by a confirmation frame.
	RCodeConfirmation = 0xFF
)

// Request is a parsed outbound DPA request frame.
type Request struct {
	NAdr    uint16
	PNum    uint8
	PCmd    uint8
	HWPID   uint16
	Payload []byte
}

// IsBroadcast reports whether this request targets every node on the mesh.
func (r Request) IsBroadcast() bool { return r.NAdr == BroadcastAddr }

// IsCoordinatorLocal reports whether this request is handled by the
// coordinator itself without travelling further into the mesh.
func (r Request) IsCoordinatorLocal() bool { return r.NAdr == CoordinatorAddr }

// Bytes encodes the request into its on-wire representation.
func (r Request) Bytes() ([]byte, error) {
	if len(r.Payload) > MaxFrameLength-RequestHeaderLength {
		return nil, fmt.Errorf("dpa: request payload too long: %d bytes", len(r.Payload))
	}
	buf := make([]byte, RequestHeaderLength+len(r.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], r.NAdr)
	buf[2] = r.PNum
	buf[3] = r.PCmd
	binary.LittleEndian.PutUint16(buf[4:6], r.HWPID)
	copy(buf[RequestHeaderLength:], r.Payload)
	return buf, nil
}

// ParseRequest decodes a raw request frame, validating the minimum length
// invariant from the wire spec (length >= 6).
func ParseRequest(raw []byte) (Request, error) {
	if len(raw) < RequestHeaderLength {
		return Request{}, fmt.Errorf("dpa: request frame too short: %d bytes", len(raw))
	}
	if len(raw) > MaxFrameLength {
		return Request{}, fmt.Errorf("dpa: request frame too long: %d bytes", len(raw))
	}
	req := Request{
		NAdr:  binary.LittleEndian.Uint16(raw[0:2]),
		PNum:  raw[2],
		PCmd:  raw[3],
		HWPID: binary.LittleEndian.Uint16(raw[4:6]),
	}
	if len(raw) > RequestHeaderLength {
		req.Payload = append([]byte(nil), raw[RequestHeaderLength:]...)
	}
	return req, nil
}

// Response is a parsed inbound DPA response or confirmation frame.
type Response struct {
	NAdr    uint16
	PNum    uint8
	PCmd    uint8 // carries the response bit (request PCmd | ResponseBit)
	HWPID   uint16
	RCode   uint8
	DpaVal  uint8
	Payload []byte
}

// IsAsync reports whether this response is an unsolicited notification
// (never matches a pending transaction; delivered via the async path).
func (r Response) IsAsync() bool { return r.RCode&AsyncBit != 0 && r.RCode != RCodeConfirmation }

// IsConfirmation reports whether this frame is a routing confirmation.
func (r Response) IsConfirmation() bool { return r.RCode == RCodeConfirmation }

// IsOK reports whether the response carries a success status.
func (r Response) IsOK() bool { return r.RCode == RCodeOK }

// RequestPCmd strips the response bit, yielding the command the original
// request carried.
func (r Response) RequestPCmd() uint8 { return r.PCmd &^ ResponseBit }

// ParseResponse decodes a raw response/confirmation frame, validating the
// minimum length invariant from the wire spec (length >= 8).
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < ResponseHeaderLength {
		return Response{}, fmt.Errorf("dpa: response frame too short: %d bytes", len(raw))
	}
	if len(raw) > MaxFrameLength {
		return Response{}, fmt.Errorf("dpa: response frame too long: %d bytes", len(raw))
	}
	resp := Response{
		NAdr:   binary.LittleEndian.Uint16(raw[0:2]),
		PNum:   raw[2],
		PCmd:   raw[3],
		HWPID:  binary.LittleEndian.Uint16(raw[4:6]),
		RCode:  raw[6],
		DpaVal: raw[7],
	}
	if len(raw) > ResponseHeaderLength {
		resp.Payload = append([]byte(nil), raw[ResponseHeaderLength:]...)
	}
	return resp, nil
}

// ConfirmationRouting is the routing/timing information carried in the
// first three payload bytes of a confirmation frame.
type ConfirmationRouting struct {
	HopsRequest  uint8
	Timeslot     uint8
	HopsResponse uint8
}

// Routing extracts the confirmation routing fields. It is only meaningful
// when IsConfirmation() is true and Payload has at least 3 bytes.
func (r Response) Routing() (ConfirmationRouting, error) {
	if len(r.Payload) < 3 {
		return ConfirmationRouting{}, fmt.Errorf("dpa: confirmation payload too short: %d bytes", len(r.Payload))
	}
	return ConfirmationRouting{
		HopsRequest:  r.Payload[0],
		Timeslot:     r.Payload[1],
		HopsResponse: r.Payload[2],
	}, nil
}

// Matches reports whether this response frame could be the answer to req:
// nadr, pnum and the request-form of pcmd must all agree.
func (r Response) Matches(req Request) bool {
	return r.NAdr == req.NAdr && r.PNum == req.PNum && r.RequestPCmd() == req.PCmd
}
