package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/GPTx-global/crank/oracle/ledger"
)

// FakeLedger is an in-memory ledger.Client. It records every simulated and
// sent transaction and fails the test if anything is sent after a
// simulation reported an execution error.
type FakeLedger struct {
	t  testing.TB
	mu sync.Mutex

	Accounts    map[solana.PublicKey][]byte
	Blockhash   ledger.Blockhash
	BlockHeight uint64

	// SimulationErr is the execution error simulation reports.
	SimulationErr  any
	SimulationLogs []string
	// RPCErr fails every call when set.
	RPCErr  error
	SendErr error
	// Status is reported for signatures that were sent successfully.
	Status *ledger.SignatureStatus

	Simulated [][]byte
	Sent      [][]byte
	landed    map[solana.Signature]bool
	rejected  bool
}

var _ ledger.Client = (*FakeLedger)(nil)

// NewFakeLedger returns a ledger with a fixed blockhash and no accounts.
func NewFakeLedger(t testing.TB) *FakeLedger {
	return &FakeLedger{
		t:        t,
		Accounts: make(map[solana.PublicKey][]byte),
		landed:   make(map[solana.Signature]bool),
		Blockhash: ledger.Blockhash{
			Hash:                 solana.Hash{1, 2, 3, 4},
			LastValidBlockHeight: 150,
		},
		BlockHeight: 100,
		Status: &ledger.SignatureStatus{
			Slot:               42,
			ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
		},
	}
}

func (f *FakeLedger) SetAccount(address solana.PublicKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Accounts[address] = data
}

func (f *FakeLedger) SimulateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.Simulated)
}

func (f *FakeLedger) SendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.Sent)
}

func (f *FakeLedger) GetAccountData(_ context.Context, account solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RPCErr != nil {
		return nil, f.RPCErr
	}

	data, ok := f.Accounts[account]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}

	return data, nil
}

func (f *FakeLedger) GetMultipleAccountsData(_ context.Context, accounts ...solana.PublicKey) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RPCErr != nil {
		return nil, f.RPCErr
	}

	out := make([][]byte, len(accounts))
	for i, account := range accounts {
		out[i] = f.Accounts[account]
	}

	return out, nil
}

func (f *FakeLedger) GetLatestBlockhash(context.Context) (ledger.Blockhash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RPCErr != nil {
		return ledger.Blockhash{}, f.RPCErr
	}

	return f.Blockhash, nil
}

func (f *FakeLedger) GetBlockHeight(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RPCErr != nil {
		return 0, f.RPCErr
	}

	return f.BlockHeight, nil
}

func (f *FakeLedger) SimulateTransaction(_ context.Context, tx *solana.Transaction) (*ledger.SimulationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RPCErr != nil {
		return nil, f.RPCErr
	}

	wire, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	f.Simulated = append(f.Simulated, wire)

	if f.SimulationErr != nil {
		f.rejected = true
	}

	return &ledger.SimulationResult{
		Logs:          f.SimulationLogs,
		Err:           f.SimulationErr,
		UnitsConsumed: 5000,
	}, nil
}

func (f *FakeLedger) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejected {
		f.t.Errorf("transaction sent after simulation reported an error")
	}

	if f.RPCErr != nil {
		return solana.Signature{}, f.RPCErr
	}

	wire, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, err
	}
	f.Sent = append(f.Sent, wire)

	if f.SendErr != nil {
		return solana.Signature{}, f.SendErr
	}

	if len(tx.Signatures) == 0 {
		return solana.Signature{}, errors.New("transaction is not signed")
	}

	f.landed[tx.Signatures[0]] = true
	return tx.Signatures[0], nil
}

func (f *FakeLedger) GetSignatureStatus(_ context.Context, sig solana.Signature) (*ledger.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RPCErr != nil {
		return nil, f.RPCErr
	}

	if !f.landed[sig] || f.Status == nil {
		return nil, nil
	}

	status := *f.Status
	return &status, nil
}

// Land makes sig known to GetSignatureStatus without sending anything.
func (f *FakeLedger) Land(sig solana.Signature) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.landed[sig] = true
}
