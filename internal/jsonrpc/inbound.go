package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Inbound is a decoded line from the peer. It is one of *Call,
// *Notification or *Reply; the variant is fixed at decode time from the
// presence of an id and a method.
type Inbound interface {
	inbound()
}

// Call is a request that expects exactly one response carrying ID.
type Call struct {
	ID     *RequestID
	Method string
	Params json.RawMessage
}

// Notification is a request without an id. It never gets a response.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Reply is a response sent by the peer. The gateway never issues requests of
// its own, so replies are only logged.
type Reply struct {
	ID *RequestID
}

func (*Call) inbound()         {}
func (*Notification) inbound() {}
func (*Reply) inbound()        {}

// Request returns the call in the wire representation used by the engine.
func (c *Call) Request() *Request {
	return &Request{JSONRPCVersion: ProtocolVersion, Method: c.Method, Params: c.Params, ID: c.ID}
}

var (
	// ErrParse indicates the line is not valid JSON.
	ErrParse = errors.New("parse error")
	// ErrInvalidRequest indicates valid JSON that is not a JSON-RPC request.
	ErrInvalidRequest = errors.New("invalid request")
)

// DecodeError describes a line that could not be turned into an Inbound.
// ID holds whatever id could be salvaged from the raw bytes; when it is nil
// the line must be dropped without a response.
type DecodeError struct {
	Code ErrorCode
	ID   *RequestID
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Respondable reports whether an error response can be addressed to the peer.
func (e *DecodeError) Respondable() bool { return !e.ID.IsNil() }

type rawInbound struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params"`
	Result         json.RawMessage `json:"result"`
	Error          json.RawMessage `json:"error"`
	ID             json.RawMessage `json:"id"`
}

// Decode parses a single line into its Inbound variant. The jsonrpc version
// member is not enforced; hosts in the wild omit it.
func Decode(line []byte) (Inbound, error) {
	if !json.Valid(line) {
		return nil, &DecodeError{Code: ErrorCodeParseError, ID: RecoverID(line), Err: ErrParse}
	}

	var raw rawInbound
	if err := json.Unmarshal(line, &raw); err != nil {
		// Valid JSON but not an object (array batch, scalar, ...).
		return nil, &DecodeError{Code: ErrorCodeInvalidRequest, ID: RecoverID(line), Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
	}

	var id *RequestID
	if len(raw.ID) > 0 && !bytes.Equal(bytes.TrimSpace(raw.ID), []byte("null")) {
		id = new(RequestID)
		if err := id.UnmarshalJSON(raw.ID); err != nil {
			return nil, &DecodeError{Code: ErrorCodeInvalidRequest, Err: fmt.Errorf("%w: %v", ErrInvalidRequest, err)}
		}
	}

	if raw.Method == "" {
		if len(raw.Result) > 0 || len(raw.Error) > 0 {
			return &Reply{ID: id}, nil
		}
		return nil, &DecodeError{Code: ErrorCodeInvalidRequest, ID: id, Err: fmt.Errorf("%w: missing method", ErrInvalidRequest)}
	}

	if id == nil {
		return &Notification{Method: raw.Method, Params: raw.Params}, nil
	}
	return &Call{ID: id, Method: raw.Method, Params: raw.Params}, nil
}

// RecoverID scans a possibly malformed payload for a top-level "id" member.
// Only string and number ids are returned; anything else yields nil.
func RecoverID(line []byte) *RequestID {
	r := gjson.GetBytes(line, "id")
	switch r.Type {
	case gjson.String:
		return NewRequestID(r.String())
	case gjson.Number:
		return NewRequestID(json.Number(r.Raw))
	default:
		return nil
	}
}
