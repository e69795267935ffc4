package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"chain-reactor/internal/monitor"
	"chain-reactor/internal/multicall"
)

// WatchConfig declares a Watch monitor.
type WatchConfig struct {
	Name  string       `yaml:"name"`
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig is the hex-encoded form of monitor.Rule.
type RuleConfig struct {
	Name     string       `yaml:"name"`
	To       string       `yaml:"to"`
	Selector string       `yaml:"selector"`
	MinValue string       `yaml:"min_value"` // decimal wei
	Calls    []CallConfig `yaml:"calls"`
}

// CallConfig is the hex-encoded form of monitor.Template.
type CallConfig struct {
	Target       string `yaml:"target"`
	Data         string `yaml:"data"`
	Forward      bool   `yaml:"forward"`
	AllowFailure bool   `yaml:"allow_failure"`
}

// DecodeRules decodes the rules of w.
func (w WatchConfig) DecodeRules() ([]monitor.Rule, error) {
	if len(w.Rules) == 0 {
		return nil, fmt.Errorf("watch %q: at least one rule is required", w.Name)
	}
	rules := make([]monitor.Rule, 0, len(w.Rules))
	for i, rc := range w.Rules {
		r, err := rc.rule()
		if err != nil {
			return nil, fmt.Errorf("watch %q rule %d: %w", w.Name, i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func (rc RuleConfig) rule() (monitor.Rule, error) {
	r := monitor.Rule{Name: rc.Name}
	if !common.IsHexAddress(rc.To) {
		return r, fmt.Errorf("to %q is not a hex address", rc.To)
	}
	r.To = common.HexToAddress(rc.To)

	if rc.Selector != "" {
		sel, err := hexutil.Decode(rc.Selector)
		if err != nil {
			return r, fmt.Errorf("selector: %w", err)
		}
		if len(sel) != 4 {
			return r, fmt.Errorf("selector must be 4 bytes, got %d", len(sel))
		}
		r.Selector = sel
	}

	if rc.MinValue != "" {
		v, ok := new(big.Int).SetString(rc.MinValue, 10)
		if !ok || v.Sign() < 0 {
			return r, fmt.Errorf("min_value %q is not a non-negative integer", rc.MinValue)
		}
		r.MinValue = v
	}

	if len(rc.Calls) == 0 {
		return r, fmt.Errorf("at least one call is required")
	}
	for j, cc := range rc.Calls {
		tmpl, err := cc.template()
		if err != nil {
			return r, fmt.Errorf("call %d: %w", j, err)
		}
		r.Calls = append(r.Calls, tmpl)
	}
	return r, nil
}

func (cc CallConfig) template() (monitor.Template, error) {
	t := monitor.Template{Mode: multicall.MustSucceed, Forward: cc.Forward}
	if cc.AllowFailure {
		t.Mode = multicall.AllowFailure
	}
	if cc.Forward {
		if cc.Target != "" || cc.Data != "" {
			return t, fmt.Errorf("forward calls take no target or data")
		}
		return t, nil
	}
	if !common.IsHexAddress(cc.Target) {
		return t, fmt.Errorf("target %q is not a hex address", cc.Target)
	}
	t.Target = common.HexToAddress(cc.Target)
	if cc.Data != "" {
		data, err := hexutil.Decode(cc.Data)
		if err != nil {
			return t, fmt.Errorf("data: %w", err)
		}
		t.Data = data
	}
	return t, nil
}
