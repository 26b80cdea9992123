package signaling

import (
	"encoding/json"
	"fmt"
)

// message is the protoo-compatible wire envelope. Exactly one of Request,
// Response or Notification is set.
type message struct {
	Request      bool   `json:"request,omitempty"`
	Response     bool   `json:"response,omitempty"`
	Notification bool   `json:"notification,omitempty"`
	ID           uint32 `json:"id,omitempty"`
	Method       string `json:"method,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`

	OK          bool   `json:"ok,omitempty"`
	ErrorCode   int    `json:"errorCode,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

func newRequest(id uint32, method string, data json.RawMessage) message {
	return message{Request: true, ID: id, Method: method, Data: data}
}

func newResponse(req message, data json.RawMessage) message {
	return message{Response: true, ID: req.ID, OK: true, Data: data}
}

func newErrorResponse(req message, code int, reason string) message {
	return message{Response: true, ID: req.ID, ErrorCode: code, ErrorReason: reason}
}

// ResponseError is a request rejected by the remote side.
type ResponseError struct {
	Code   int
	Reason string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("signaling: request rejected [code:%d, reason:%q]", e.Code, e.Reason)
}

// Reject builds the error a server-request handler returns to refuse it.
func Reject(code int, reason string) *ResponseError {
	return &ResponseError{Code: code, Reason: reason}
}
