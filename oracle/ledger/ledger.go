package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrAccountNotFound is returned when an address holds no account.
var ErrAccountNotFound = errors.New("account not found")

// Blockhash is a recent blockhash and the last block height it is valid for.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// SimulationResult is what the simulation endpoint reports.
// Err is nil when the transaction would execute.
type SimulationResult struct {
	Logs          []string
	Err           any
	UnitsConsumed uint64
}

// SignatureStatus is the network's view of a submitted transaction.
// A nil status from GetSignatureStatus means the signature is unknown.
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus rpc.ConfirmationStatusType
	Err                any
}

// Client is the JSON-RPC boundary the crank consumes.
type Client interface {
	GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error)
	GetMultipleAccountsData(ctx context.Context, accounts ...solana.PublicKey) ([][]byte, error)
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
}

// RPC implements Client over a Solana JSON-RPC endpoint.
type RPC struct {
	client     *rpc.Client
	endpoint   string
	commitment rpc.CommitmentType
	timeout    time.Duration
}

var _ Client = (*RPC)(nil)

// NewRPC reads and writes at the given commitment level.
func NewRPC(endpoint string, commitment rpc.CommitmentType) *RPC {
	return &RPC{
		client:     rpc.New(endpoint),
		endpoint:   endpoint,
		commitment: commitment,
	}
}

// WithTimeout bounds every call made through r. Zero leaves calls bounded
// only by the caller's context.
func (r *RPC) WithTimeout(d time.Duration) *RPC {
	r.timeout = d
	return r
}

func (r *RPC) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *RPC) Endpoint() string {
	return r.endpoint
}

func (r *RPC) Commitment() rpc.CommitmentType {
	return r.commitment
}

func (r *RPC) GetAccountData(ctx context.Context, account solana.PublicKey) ([]byte, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.client.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Commitment: r.commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", account, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("failed to get account %s: %w", account, err)
	}

	if res == nil || res.Value == nil {
		return nil, fmt.Errorf("%s: %w", account, ErrAccountNotFound)
	}

	return res.Value.Data.GetBinary(), nil
}

func (r *RPC) GetMultipleAccountsData(ctx context.Context, accounts ...solana.PublicKey) ([][]byte, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.client.GetMultipleAccountsWithOpts(ctx, accounts, &rpc.GetMultipleAccountsOpts{
		Commitment: r.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %d accounts: %w", len(accounts), err)
	}

	out := make([][]byte, len(accounts))
	for i, account := range res.Value {
		if i >= len(out) {
			break
		}
		if account == nil || account.Data == nil {
			continue
		}
		out[i] = account.Data.GetBinary()
	}

	return out, nil
}

func (r *RPC) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.client.GetLatestBlockhash(ctx, r.commitment)
	if err != nil {
		return Blockhash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	return Blockhash{
		Hash:                 res.Value.Blockhash,
		LastValidBlockHeight: res.Value.LastValidBlockHeight,
	}, nil
}

func (r *RPC) GetBlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	height, err := r.client.GetBlockHeight(ctx, r.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get block height: %w", err)
	}

	return height, nil
}

func (r *RPC) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		Commitment: r.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to simulate transaction: %w", err)
	}

	out := &SimulationResult{
		Logs: res.Value.Logs,
		Err:  res.Value.Err,
	}
	if res.Value.UnitsConsumed != nil {
		out.UnitsConsumed = *res.Value.UnitsConsumed
	}

	return out, nil
}

func (r *RPC) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	sig, err := r.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: r.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	return sig, nil
}

func (r *RPC) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	res, err := r.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}

	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return nil, nil
	}

	status := res.Value[0]
	return &SignatureStatus{
		Slot:               status.Slot,
		ConfirmationStatus: status.ConfirmationStatus,
		Err:                status.Err,
	}, nil
}

// Reached reports whether a confirmation status satisfies the commitment level.
func Reached(status rpc.ConfirmationStatusType, commitment rpc.CommitmentType) bool {
	rank := func(s string) int {
		switch s {
		case "processed":
			return 1
		case "confirmed":
			return 2
		case "finalized":
			return 3
		}
		return 0
	}

	have := rank(string(status))
	return have > 0 && have >= rank(string(commitment))
}
