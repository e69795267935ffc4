// Package transport carries JSON-RPC requests and subscriptions to a chain node.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Caller performs a single request/response call. result is decoded from the
// JSON result field and may be nil when the caller does not need it.
type Caller interface {
	Call(ctx context.Context, result any, method string, params ...any) error
}

// Subscriber opens a push subscription. namespace is the method prefix
// ("eth" for eth_subscribe); params[0] is the subscription kind.
type Subscriber interface {
	Subscribe(ctx context.Context, namespace string, params ...any) (Subscription, error)
}

// Transport is both a Caller and a Subscriber.
type Transport interface {
	Caller
	Subscriber
}

// Subscription delivers raw notification payloads.
// Err yields at most one error and is closed after Unsubscribe.
type Subscription interface {
	Notifications() <-chan json.RawMessage
	Err() <-chan error
	Unsubscribe()
}

var (
	// ErrClosed is returned by calls on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrNotSupported is returned by Subscribe on transports without push support.
	ErrNotSupported = errors.New("subscriptions not supported")
	// ErrConnectionLost fails calls that were in flight when a connection dropped.
	ErrConnectionLost = errors.New("connection lost")
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// ErrorCode and ErrorData match go-ethereum's rpc.Error and rpc.DataError so
// revert data survives whichever transport produced it.
func (e *RPCError) ErrorCode() int { return e.Code }

func (e *RPCError) ErrorData() interface{} {
	if len(e.Data) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return e.Data
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// message is any inbound JSON-RPC frame: a response (ID set) or a
// subscription notification (Method set).
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type notificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

func newRequest(id uint64, method string, params []any) request {
	if params == nil {
		params = []any{}
	}
	return request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// decodeResult unmarshals raw into result. A missing result leaves result untouched.
func decodeResult(raw json.RawMessage, result any) error {
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}
