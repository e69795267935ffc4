// Package multicall encodes bundles of calls for the on-chain multicall
// contract and decodes its combined results back into per-call outcomes.
//
// The contract exposes
//
//	execute(bytes32[] commands, bytes[] inputs) returns ((bool success, bytes returnData)[])
//
// and reverts the whole transaction with CallFailed(uint256 index, bytes reason)
// when a must-succeed call fails.
package multicall

import (
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed multicall.abi.json
var contractJSON string

const (
	executeMethod   = "execute"
	callFailedError = "CallFailed"
)

// ContractABI is the parsed interface of the multicall contract.
var ContractABI = mustParse(contractJSON)

// RawResult is one element of the execute return value.
type RawResult struct {
	Success    bool
	ReturnData []byte
}

func mustParse(s string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("multicall: parse contract abi: " + err.Error())
	}
	return &parsed
}
