package chain

import (
	"encoding/json"
	"fmt"
	"sync"

	"chain-reactor/internal/transport"
)

// Feed decodes a raw subscription into typed items.
//
// Items are delivered in arrival order. The first error (from the
// subscription or from decoding) is delivered on Err and ends the feed.
type Feed[T any] struct {
	sub    transport.Subscription
	decode func(json.RawMessage) (T, error)

	items chan T
	errCh chan error
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newFeed[T any](sub transport.Subscription, decode func(json.RawMessage) (T, error)) *Feed[T] {
	f := &Feed[T]{
		sub:    sub,
		decode: decode,
		items:  make(chan T),
		errCh:  make(chan error, 1),
		quit:   make(chan struct{}),
	}
	f.wg.Add(1)
	go f.loop()
	return f
}

func (f *Feed[T]) loop() {
	defer f.wg.Done()
	for {
		select {
		case raw := <-f.sub.Notifications():
			item, err := f.decode(raw)
			if err != nil {
				f.errCh <- fmt.Errorf("decode notification: %w", err)
				return
			}
			select {
			case f.items <- item:
			case <-f.quit:
				return
			}
		case err, ok := <-f.sub.Err():
			if ok && err != nil {
				f.errCh <- err
			}
			return
		case <-f.quit:
			return
		}
	}
}

// Items returns the typed notification stream.
func (f *Feed[T]) Items() <-chan T {
	return f.items
}

// Err yields at most one error. It does not yield after Unsubscribe.
func (f *Feed[T]) Err() <-chan error {
	return f.errCh
}

// Unsubscribe ends the feed and the underlying subscription.
func (f *Feed[T]) Unsubscribe() {
	f.once.Do(func() {
		close(f.quit)
		f.sub.Unsubscribe()
		f.wg.Wait()
	})
}
