package queue

import (
	"context"
	"errors"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"

	"github.com/GPTx-global/crank/oracle/ledger"
	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/types"
)

// AccountReader is the part of the ledger the registry needs.
type AccountReader interface {
	GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	GetMultipleAccountsData(ctx context.Context, accounts ...solana.PublicKey) ([][]byte, error)
}

// Prober checks that a gateway answers before it is handed out.
type Prober interface {
	Probe(ctx context.Context, gateway types.Gateway) bool
}

// Registry resolves queue accounts and their gateway members.
type Registry struct {
	reader AccountReader
	prober Prober
}

// NewRegistry reads queue and oracle accounts through reader.
func NewRegistry(reader AccountReader) *Registry {
	return &Registry{reader: reader}
}

// WithProber drops gateways that fail the probe from FetchGateways results.
func (r *Registry) WithProber(p Prober) *Registry {
	r.prober = p
	return r
}

// Load reads and decodes the queue account at address.
func (r *Registry) Load(ctx context.Context, address solana.PublicKey) (*types.Queue, error) {
	data, err := r.reader.GetAccountData(ctx, address)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, errorsmod.Wrapf(types.ErrQueueNotFound, "queue %s", address)
		}
		return nil, err
	}

	if len(data) == 0 {
		return nil, errorsmod.Wrapf(types.ErrQueueNotFound, "queue %s holds no data", address)
	}

	acc, err := decodeQueueAccount(data)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrDecode, "queue %s: %v", address, err)
	}

	return &types.Queue{
		Address:       address,
		Authority:     acc.Authority,
		OracleKeys:    acc.OracleKeys,
		NodeTimeout:   acc.NodeTimeout,
		LastHeartbeat: acc.LastHeartbeat,
	}, nil
}

// FetchGateways resolves the gateway advertised by each queue oracle, in queue order.
// Missing oracles, blank URIs and repeated URIs are skipped. An empty result is
// ErrEmptyQueue; callers must not continue with it.
func (r *Registry) FetchGateways(ctx context.Context, q *types.Queue) ([]types.Gateway, error) {
	if len(q.OracleKeys) == 0 {
		return nil, errorsmod.Wrapf(types.ErrEmptyQueue, "queue %s has no oracles", q.Address)
	}

	data, err := r.reader.GetMultipleAccountsData(ctx, q.OracleKeys...)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(q.OracleKeys))
	gateways := make([]types.Gateway, 0, len(q.OracleKeys))
	for i, key := range q.OracleKeys {
		if i >= len(data) || data[i] == nil {
			log.Debugf("oracle %s not found, skipping", key)
			continue
		}

		acc, err := decodeOracleAccount(data[i])
		if err != nil {
			log.Errorf("failed to decode oracle %s: %v", key, err)
			continue
		}

		if acc.GatewayURI == "" {
			continue
		}

		if _, ok := seen[acc.GatewayURI]; ok {
			continue
		}
		seen[acc.GatewayURI] = struct{}{}

		gateways = append(gateways, types.Gateway{
			Endpoint: acc.GatewayURI,
			Oracle:   key,
		})
	}

	if r.prober != nil {
		gateways = r.probe(ctx, gateways)
	}

	if len(gateways) == 0 {
		return nil, errorsmod.Wrapf(types.ErrEmptyQueue, "queue %s has no reachable gateways", q.Address)
	}

	return gateways, nil
}

// probe checks all gateways concurrently and keeps the healthy ones in order.
func (r *Registry) probe(ctx context.Context, gateways []types.Gateway) []types.Gateway {
	healthy := make([]bool, len(gateways))

	var wg sync.WaitGroup
	for i, gw := range gateways {
		wg.Add(1)
		go func(i int, gw types.Gateway) {
			defer wg.Done()
			healthy[i] = r.prober.Probe(ctx, gw)
		}(i, gw)
	}
	wg.Wait()

	out := gateways[:0]
	for i, gw := range gateways {
		if healthy[i] {
			out = append(out, gw)
		} else {
			log.Debugf("gateway %s failed probe, skipping", gw.Endpoint)
		}
	}

	return out
}
