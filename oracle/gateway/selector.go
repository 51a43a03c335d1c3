package gateway

import (
	"fmt"

	errorsmod "cosmossdk.io/errors"

	"github.com/GPTx-global/crank/oracle/types"
)

// Selector picks which of the queue's gateways to query for one run.
type Selector interface {
	Select(gateways []types.Gateway) ([]types.Gateway, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(gateways []types.Gateway) ([]types.Gateway, error)

func (f SelectorFunc) Select(gateways []types.Gateway) ([]types.Gateway, error) {
	return f(gateways)
}

// First always queries gateways[0] and has no fallback.
func First() Selector {
	return Index(0)
}

// Index queries the gateway at position i.
func Index(i int) Selector {
	return SelectorFunc(func(gateways []types.Gateway) ([]types.Gateway, error) {
		if i < 0 || i >= len(gateways) {
			return nil, errorsmod.Wrapf(types.ErrConfiguration, "gateway index %d out of range for %d gateways", i, len(gateways))
		}
		return gateways[i : i+1], nil
	})
}

// FanOut queries the first n gateways concurrently, or all of them when fewer.
func FanOut(n int) Selector {
	return SelectorFunc(func(gateways []types.Gateway) ([]types.Gateway, error) {
		if n <= 0 {
			return nil, errorsmod.Wrapf(types.ErrConfiguration, "fan-out width %d must be positive", n)
		}
		if len(gateways) == 0 {
			return nil, errorsmod.Wrap(types.ErrConfiguration, "no gateways to select from")
		}
		return gateways[:min(n, len(gateways))], nil
	})
}

// NewSelector builds a selector from its configured name.
func NewSelector(strategy string, index, fanout int) (Selector, error) {
	switch strategy {
	case "", "first":
		return First(), nil
	case "index":
		return Index(index), nil
	case "fanout":
		return FanOut(fanout), nil
	default:
		return nil, fmt.Errorf("unknown gateway strategy %q", strategy)
	}
}
