// Package stub provides an in-memory chain node for tests.
package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"chain-reactor/internal/transport"
)

// ErrNotFound is returned for unknown methods.
var ErrNotFound = errors.New("not found")

// Node implements transport.Transport from in-memory maps.
// Lookups of unknown hashes return JSON null, as a real node does.
type Node struct {
	mu sync.Mutex

	ChainID      *big.Int
	Transactions map[common.Hash]*types.Transaction
	Headers      map[common.Hash]*types.Header
	BlockTxs     map[common.Hash][]common.Hash
	Nonces       map[common.Address]uint64
	TipCap       *big.Int
	Gas          uint64

	// CallResult answers eth_call; CallErr, when set, is returned instead.
	CallResult []byte
	CallErr    error

	// SendErr, when set, fails eth_sendRawTransaction.
	SendErr error

	// Delays holds a per-method latency applied before answering.
	Delays map[string]time.Duration

	Sent  []*types.Transaction
	Calls map[string]int

	subs map[string][]*subscription
}

// NewNode creates an empty node for chainID.
func NewNode(chainID int64) *Node {
	return &Node{
		ChainID:      big.NewInt(chainID),
		Transactions: make(map[common.Hash]*types.Transaction),
		Headers:      make(map[common.Hash]*types.Header),
		BlockTxs:     make(map[common.Hash][]common.Hash),
		Nonces:       make(map[common.Address]uint64),
		TipCap:       big.NewInt(1_000_000_000),
		Gas:          100_000,
		Delays:       make(map[string]time.Duration),
		Calls:        make(map[string]int),
		subs:         make(map[string][]*subscription),
	}
}

// AddTransaction makes tx retrievable by hash.
func (n *Node) AddTransaction(tx *types.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Transactions[tx.Hash()] = tx
}

// AddBlock stores header and the hashes of its transactions.
func (n *Node) AddBlock(header *types.Header, txs ...common.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Headers[header.Hash()] = header
	n.BlockTxs[header.Hash()] = txs
}

// SetDelay makes method wait d before answering.
func (n *Node) SetDelay(method string, d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Delays[method] = d
}

// CallCount returns how often method was called.
func (n *Node) CallCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Calls[method]
}

// SentTransactions returns a copy of the broadcast transactions.
func (n *Node) SentTransactions() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.Sent...)
}

// PushHead publishes header to newHeads subscribers and stores the block.
func (n *Node) PushHead(header *types.Header, txs ...common.Hash) {
	n.AddBlock(header, txs...)
	n.publish("newHeads", header)
}

// PushPending publishes hash to newPendingTransactions subscribers.
func (n *Node) PushPending(hash common.Hash) {
	n.publish("newPendingTransactions", hash)
}

// Subscribers returns the number of live subscriptions of kind.
func (n *Node) Subscribers(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[kind])
}

func (n *Node) publish(kind string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	n.mu.Lock()
	subs := append([]*subscription(nil), n.subs[kind]...)
	n.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- raw:
		case <-s.quit:
		}
	}
}

func (n *Node) Call(ctx context.Context, result any, method string, params ...any) error {
	n.mu.Lock()
	n.Calls[method]++
	delay := n.Delays[method]
	n.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	v, err := n.answer(method, params)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(raw, result)
}

func (n *Node) answer(method string, params []any) (any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch method {
	case "eth_chainId":
		return (*hexutil.Big)(n.ChainID), nil
	case "eth_blockNumber":
		var max uint64
		for _, h := range n.Headers {
			if h.Number.Uint64() > max {
				max = h.Number.Uint64()
			}
		}
		return hexutil.Uint64(max), nil
	case "eth_getBlockByHash":
		hash, err := hashParam(params)
		if err != nil {
			return nil, err
		}
		h, ok := n.Headers[hash]
		if !ok {
			return nil, nil
		}
		return blockJSON(h, n.BlockTxs[hash])
	case "eth_getTransactionByHash":
		hash, err := hashParam(params)
		if err != nil {
			return nil, err
		}
		tx, ok := n.Transactions[hash]
		if !ok {
			return nil, nil
		}
		return tx, nil
	case "eth_getTransactionCount":
		addr, ok := params[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("unexpected address param %T", params[0])
		}
		return hexutil.Uint64(n.Nonces[addr]), nil
	case "eth_maxPriorityFeePerGas":
		return (*hexutil.Big)(n.TipCap), nil
	case "eth_getBlockByNumber":
		var latest *types.Header
		for _, h := range n.Headers {
			if latest == nil || h.Number.Cmp(latest.Number) > 0 {
				latest = h
			}
		}
		if latest == nil {
			return nil, nil
		}
		return blockJSON(latest, n.BlockTxs[latest.Hash()])
	case "eth_estimateGas":
		if n.CallErr != nil {
			return nil, n.CallErr
		}
		return hexutil.Uint64(n.Gas), nil
	case "eth_call":
		if n.CallErr != nil {
			return nil, n.CallErr
		}
		return hexutil.Bytes(n.CallResult), nil
	case "eth_sendRawTransaction":
		if n.SendErr != nil {
			return nil, n.SendErr
		}
		s, ok := params[0].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected raw tx param %T", params[0])
		}
		data, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		n.Sent = append(n.Sent, tx)
		return tx.Hash(), nil
	}
	return nil, fmt.Errorf("%s: %w", method, ErrNotFound)
}

func hashParam(params []any) (common.Hash, error) {
	if len(params) == 0 {
		return common.Hash{}, errors.New("missing hash param")
	}
	switch v := params[0].(type) {
	case common.Hash:
		return v, nil
	case string:
		return common.HexToHash(v), nil
	}
	return common.Hash{}, fmt.Errorf("unexpected hash param %T", params[0])
}

// blockJSON renders a header as an eth_getBlockByHash result with transaction hashes.
func blockJSON(h *types.Header, txs []common.Hash) (map[string]any, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	var block map[string]any
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []common.Hash{}
	}
	block["transactions"] = txs
	return block, nil
}

func (n *Node) Subscribe(ctx context.Context, namespace string, params ...any) (transport.Subscription, error) {
	if namespace != "eth" || len(params) == 0 {
		return nil, transport.ErrNotSupported
	}
	kind, ok := params[0].(string)
	if !ok {
		return nil, transport.ErrNotSupported
	}
	s := &subscription{
		node:  n,
		kind:  kind,
		ch:    make(chan json.RawMessage, 64),
		errCh: make(chan error, 1),
		quit:  make(chan struct{}),
	}
	n.mu.Lock()
	n.subs[kind] = append(n.subs[kind], s)
	n.mu.Unlock()
	return s, nil
}

// Fail ends every subscription of kind with err.
func (n *Node) Fail(kind string, err error) {
	n.mu.Lock()
	subs := n.subs[kind]
	delete(n.subs, kind)
	n.mu.Unlock()
	for _, s := range subs {
		s.errCh <- err
	}
}

type subscription struct {
	node  *Node
	kind  string
	ch    chan json.RawMessage
	errCh chan error
	quit  chan struct{}
	once  sync.Once
}

func (s *subscription) Notifications() <-chan json.RawMessage { return s.ch }

func (s *subscription) Err() <-chan error { return s.errCh }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.node.mu.Lock()
		defer s.node.mu.Unlock()
		subs := s.node.subs[s.kind]
		for i, cur := range subs {
			if cur == s {
				s.node.subs[s.kind] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	})
}

// NewHeader returns a header with every field a JSON round trip requires.
func NewHeader(number uint64, parent common.Hash) *types.Header {
	return &types.Header{
		ParentHash: parent,
		Number:     new(big.Int).SetUint64(number),
		Difficulty: new(big.Int),
		GasLimit:   30_000_000,
		Time:       uint64(1_700_000_000 + number*12),
		BaseFee:    big.NewInt(10_000_000_000),
	}
}
