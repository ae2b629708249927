package remote

import (
	"errors"
	"net/http"

	"github.com/roach88/fieldsync/internal/document"
)

// maxMessageBytes caps a single JSON-RPC message in either direction.
const maxMessageBytes = 1 << 20

// RPC methods understood by Handler.
const (
	MethodCreate = "create"
	MethodUpdate = "update"
	MethodDelete = "delete"
	MethodGet    = "get"
)

// RPCRequest is a client to server message.
type RPCRequest struct {
	ID     uint64    `json:"id"`
	Method string    `json:"method"`
	Params RPCParams `json:"params"`
}

// RPCParams addresses a document and carries its data.
type RPCParams struct {
	Kind string            `json:"kind"`
	ID   string            `json:"id,omitempty"`
	Data document.Document `json:"data,omitempty"`
}

// RPCResponse answers the request with the same ID.
type RPCResponse struct {
	ID     uint64     `json:"id"`
	Error  *RPCError  `json:"error,omitempty"`
	Result *RPCResult `json:"result,omitempty"`
}

// RPCResult is the payload of a successful response.
type RPCResult struct {
	ID   string            `json:"id,omitempty"`
	Data document.Document `json:"data,omitempty"`
}

// RPCError carries an HTTP-style status code. 4xx codes are permanent,
// everything else is transient.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (r *RPCError) Error() string {
	return r.Message
}

// asError converts a wire error into a classified Error.
func (r *RPCError) asError(op string) *Error {
	kind := Transient
	if r.Code >= 400 && r.Code < 500 {
		kind = Permanent
	}
	var wrapped error = r
	if r.Code == http.StatusNotFound {
		wrapped = errors.Join(r, ErrNotFound)
	}
	return &Error{Kind: kind, Op: op, Code: r.Code, Message: r.Message, Err: wrapped}
}

// rpcErrorFrom maps a store error onto the wire.
func rpcErrorFrom(err error) *RPCError {
	switch {
	case errors.Is(err, ErrNotFound):
		return &RPCError{Code: http.StatusNotFound, Message: err.Error()}
	case IsPermanent(err):
		return &RPCError{Code: http.StatusUnprocessableEntity, Message: err.Error()}
	default:
		return &RPCError{Code: http.StatusServiceUnavailable, Message: err.Error()}
	}
}
