package submit

import (
	"context"
	"sync"
)

// nonces hands out consecutive nonces for one sender. It is seeded from the
// node's pending nonce and reseeded after a failed send.
type nonces struct {
	mu     sync.Mutex
	next   uint64
	seeded bool
}

func (n *nonces) take(ctx context.Context, pending func(context.Context) (uint64, error)) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.seeded {
		v, err := pending(ctx)
		if err != nil {
			return 0, err
		}
		n.next, n.seeded = v, true
	}
	nonce := n.next
	n.next++
	return nonce, nil
}

// reset drops the cached nonce so the next take asks the node again.
func (n *nonces) reset() {
	n.mu.Lock()
	n.seeded = false
	n.mu.Unlock()
}
