package aggregator

import (
	errorsmod "cosmossdk.io/errors"

	"github.com/GPTx-global/crank/oracle/gateway"
	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/types"
)

// Selection is the reply chosen to build the update from.
type Selection struct {
	types.QuorumResult
	Instruction *types.UpdateInstruction
}

// SuccessCount counts responses that carry a value.
func SuccessCount(responses []types.OracleResponse) int {
	n := 0
	for _, r := range responses {
		if r.Present() {
			n++
		}
	}
	return n
}

// Dedupe drops repeated oracles, keeping the first occurrence and the
// input order.
func Dedupe(responses []types.OracleResponse) []types.OracleResponse {
	seen := make(map[string]struct{}, len(responses))
	out := make([]types.OracleResponse, 0, len(responses))
	for _, r := range responses {
		key := r.Oracle.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Aggregate picks the reply with the most successful responses. Replies are
// never merged: the instruction a gateway built only covers its own
// responses. Ties keep reply order. The selection must reach threshold.
func Aggregate(replies []gateway.Reply, threshold int) (*Selection, error) {
	if threshold <= 0 {
		return nil, errorsmod.Wrapf(types.ErrConfiguration, "quorum threshold %d must be positive", threshold)
	}
	if len(replies) == 0 {
		return nil, errorsmod.Wrapf(types.ErrNoQuorum, "0 of %d required responses: no replies", threshold)
	}

	var best *Selection
	for _, reply := range replies {
		responses := Dedupe(reply.Responses)
		if dropped := len(reply.Responses) - len(responses); dropped > 0 {
			// the gateway's instruction still carries every signature
			log.Debugf("gateway %s: dropped %d duplicate responses, counting %d of %d",
				reply.Gateway.Endpoint, dropped, len(responses), len(reply.Responses))
		}
		count := SuccessCount(responses)
		if best != nil && count <= best.SuccessCount {
			continue
		}
		best = &Selection{
			QuorumResult: types.QuorumResult{
				Responses:    responses,
				SuccessCount: count,
				Gateway:      reply.Gateway.Endpoint,
			},
			Instruction: reply.Instruction,
		}
	}

	if best.SuccessCount < threshold {
		return nil, errorsmod.Wrapf(types.ErrNoQuorum, "%d of %d required responses from %s (%d returned)",
			best.SuccessCount, threshold, best.Gateway, len(best.Responses))
	}

	return best, nil
}
