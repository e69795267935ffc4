package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// GethTransport adapts a go-ethereum rpc.Client. It supports every scheme the
// client does (http, ws, ipc, in-process).
type GethTransport struct {
	client *rpc.Client
	buffer int
}

// DialGeth connects to endpoint with go-ethereum's client.
func DialGeth(ctx context.Context, endpoint string) (*GethTransport, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return NewGethTransport(client), nil
}

// NewGethTransport wraps an existing client. The transport takes ownership:
// Close closes the client.
func NewGethTransport(client *rpc.Client) *GethTransport {
	return &GethTransport{client: client, buffer: DefaultWSConfig().NotificationBuffer}
}

func (g *GethTransport) Call(ctx context.Context, result any, method string, params ...any) error {
	return g.client.CallContext(ctx, result, method, params...)
}

func (g *GethTransport) Subscribe(ctx context.Context, namespace string, params ...any) (Subscription, error) {
	ch := make(chan json.RawMessage, g.buffer)
	sub, err := g.client.Subscribe(ctx, namespace, ch, params...)
	if err != nil {
		if err == rpc.ErrNotificationsUnsupported {
			return nil, ErrNotSupported
		}
		return nil, err
	}
	return &gethSubscription{sub: sub, ch: ch}, nil
}

func (g *GethTransport) Close() error {
	g.client.Close()
	return nil
}

type gethSubscription struct {
	sub *rpc.ClientSubscription
	ch  chan json.RawMessage
}

func (s *gethSubscription) Notifications() <-chan json.RawMessage { return s.ch }

func (s *gethSubscription) Err() <-chan error { return s.sub.Err() }

func (s *gethSubscription) Unsubscribe() { s.sub.Unsubscribe() }
