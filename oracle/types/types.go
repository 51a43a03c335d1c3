package types

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
)

// Feed points at an on-chain pull feed. Only the address is used.
type Feed struct {
	Address solana.PublicKey
}

func (f Feed) String() string {
	return f.Address.String()
}

// Gateway is an off-chain service that collects signed oracle attestations.
type Gateway struct {
	Endpoint string           // base URL advertised on-chain
	Oracle   solana.PublicKey // oracle account that advertised the endpoint
}

// Queue is the decoded state of a queue account, loaded once per run.
type Queue struct {
	Address       solana.PublicKey
	Authority     solana.PublicKey
	OracleKeys    []solana.PublicKey // on-chain order
	NodeTimeout   int64
	LastHeartbeat int64
}

// OracleResponse is one attestation returned by a gateway.
type OracleResponse struct {
	Oracle    solana.PublicKey
	Value     math.Int // nil Int when the oracle reported an error
	Error     string
	Signature []byte
	Gateway   string
}

// Present reports whether the oracle produced a value.
func (r OracleResponse) Present() bool {
	return !r.Value.IsNil()
}

// ValueString renders the value the way operators read it, "ERR" when absent.
func (r OracleResponse) ValueString() string {
	if !r.Present() {
		return "ERR"
	}
	return r.Value.String()
}

// QuorumResult is the aggregated reply of one gateway.
// SuccessCount always equals the number of responses with a present value.
type QuorumResult struct {
	Responses    []OracleResponse
	SuccessCount int
	Gateway      string
}

// LookupTables maps a lookup table address to the addresses it stores.
type LookupTables map[solana.PublicKey]solana.PublicKeySlice

// UpdateInstruction is the feed update payload returned by a gateway.
// It satisfies solana.Instruction.
type UpdateInstruction struct {
	Program      solana.PublicKey
	AccountMetas solana.AccountMetaSlice
	Payload      []byte
	LookupTables []solana.PublicKey
}

var _ solana.Instruction = (*UpdateInstruction)(nil)

func (ix *UpdateInstruction) ProgramID() solana.PublicKey {
	return ix.Program
}

func (ix *UpdateInstruction) Accounts() []*solana.AccountMeta {
	return ix.AccountMetas
}

func (ix *UpdateInstruction) Data() ([]byte, error) {
	if len(ix.Payload) == 0 {
		return nil, fmt.Errorf("update instruction has no data")
	}
	return ix.Payload, nil
}

// PipelineOutcome is the externally observable result of a run.
type PipelineOutcome struct {
	RunID        string
	Signature    solana.Signature
	Stage        Stage
	SuccessCount int
	Logs         []string
	Err          error
}

// Confirmed reports whether the run landed on-chain.
func (o *PipelineOutcome) Confirmed() bool {
	return o != nil && o.Stage == StageConfirmed && o.Err == nil
}
