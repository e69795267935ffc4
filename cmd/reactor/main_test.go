package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chain-reactor/internal/chain"
	"chain-reactor/internal/chain/stub"
	"chain-reactor/internal/config"
	"chain-reactor/internal/engine"
	"chain-reactor/internal/multicall"
	"chain-reactor/internal/submit"
)

var (
	pair  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	token = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		decodeJSON = false
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func packedBundle(t *testing.T) string {
	t.Helper()
	b := multicall.NewBundle()
	b.Add(multicall.MustSucceed, multicall.NewRawCall(pair, []byte{0x09, 0x02, 0xf1, 0xac}))
	b.Add(multicall.AllowFailure, multicall.NewRawCall(token, []byte{0x18, 0x16, 0x0d, 0xdd}))
	data, err := b.Pack()
	require.NoError(t, err)
	return hexutil.Encode(data)
}

func TestDecodeCommands_JSON(t *testing.T) {
	out, err := execute(t, "decode-commands", "--json", packedBundle(t))
	require.NoError(t, err)

	var views []commandView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "call", views[0].Kind)
	assert.Equal(t, pair.Hex(), views[0].Target)
	assert.Equal(t, "0x0902f1ac", views[0].Input)
	assert.Equal(t, "call_allow_failure", views[1].Kind)
	assert.Equal(t, "allow_failure", views[1].Mode)
	assert.Equal(t, token.Hex(), views[1].Target)
}

func TestDecodeCommands_Text(t *testing.T) {
	out, err := execute(t, "decode-commands", packedBundle(t))
	require.NoError(t, err)
	assert.Contains(t, out, "call\t"+pair.Hex()+"\t0x0902f1ac")
}

func TestDecodeCommands_RejectsOtherCalldata(t *testing.T) {
	_, err := execute(t, "decode-commands", "0xa9059cbb")
	assert.ErrorIs(t, err, multicall.ErrInvalidCommand)

	_, err = execute(t, "decode-commands", "not-hex")
	assert.Error(t, err)
}

func TestBuildMonitors(t *testing.T) {
	mc := config.MonitorsConfig{
		Log: true,
		Watch: []config.WatchConfig{{
			Name: "swaps",
			Rules: []config.RuleConfig{{
				To:    pair.Hex(),
				Calls: []config.CallConfig{{Forward: true}},
			}},
		}},
	}
	pending, blocks, err := buildMonitors(mc, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Len(t, blocks, 1)
	assert.Equal(t, "swaps", pending[1].Name())
}

func TestMux(t *testing.T) {
	c := chain.New(stub.NewNode(1))
	reactor, err := submit.New(c, submit.Options{Contract: pair, ChainID: big.NewInt(1)})
	require.NoError(t, err)
	eng, err := engine.New(engine.Options{Chain: c, Reactor: reactor, RunID: "mux-run"})
	require.NoError(t, err)
	mux := newMux(eng, time.Now())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "mux-run", status.RunID)
	assert.Equal(t, "running", status.Status)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
