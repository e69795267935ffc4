package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"chain-reactor/internal/multicall"
)

var decodeJSON bool

var decodeCmd = &cobra.Command{
	Use:   "decode-commands <calldata>",
	Short: "Decode the command list of multicall calldata",
	Long: `Decode the command list of a multicall transaction's calldata.

Calldata is the hex input of a call to the multicall contract, selector
included. Each command is printed with its kind, target and input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		calldata, err := hexutil.Decode(strings.TrimSpace(args[0]))
		if err != nil {
			return fmt.Errorf("calldata: %w", err)
		}
		words, inputs, err := multicall.UnpackCalldata(calldata)
		if err != nil {
			return err
		}
		commands, err := multicall.DecodeCommands(words, inputs)
		if err != nil {
			return err
		}
		return printCommands(cmd, commands)
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "print JSON instead of text")
}

type commandView struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Mode   string `json:"mode"`
	Target string `json:"target"`
	Input  string `json:"input"`
}

func printCommands(cmd *cobra.Command, commands []multicall.Command) error {
	out := cmd.OutOrStdout()
	views := make([]commandView, len(commands))
	for i, c := range commands {
		views[i] = commandView{
			Index:  c.Index,
			Kind:   c.Kind.String(),
			Mode:   c.Mode.String(),
			Target: c.Target.Hex(),
			Input:  hexutil.Encode(c.Input),
		}
	}
	if decodeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	for _, v := range views {
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", v.Index, v.Kind, v.Target, v.Input)
	}
	return nil
}
