package instruction

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"

	"github.com/GPTx-global/crank/oracle/types"
)

const (
	// MaxAccountKeys is the most accounts a v0 message can address,
	// static keys and lookup table entries together.
	MaxAccountKeys = 256
	// MaxTransactionSize is the packet limit for a signed transaction.
	MaxTransactionSize = 1232
)

// Builder wraps an update instruction with fee directives and compiles it.
type Builder struct {
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
}

// Instructions returns the instruction list in execution order: the compute
// unit limit, the compute unit price, then the update itself.
func (b Builder) Instructions(update solana.Instruction) []solana.Instruction {
	return []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(b.ComputeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(b.ComputeUnitPrice).Build(),
		update,
	}
}

// Compile builds an unsigned v0 transaction paid by payer. Every lookup table
// the update references must be present in tables.
func (b Builder) Compile(
	payer solana.PublicKey,
	update *types.UpdateInstruction,
	tables types.LookupTables,
	blockhash solana.Hash,
) (*solana.Transaction, error) {
	if update == nil {
		return nil, errorsmod.Wrap(types.ErrCompile, "no update instruction")
	}
	if _, err := update.Data(); err != nil {
		return nil, errorsmod.Wrap(types.ErrCompile, err.Error())
	}

	used := make(map[solana.PublicKey]solana.PublicKeySlice, len(update.LookupTables))
	for _, address := range update.LookupTables {
		entries, ok := tables[address]
		if !ok {
			return nil, errorsmod.Wrapf(types.ErrCompile, "lookup table %s is not resolved", address)
		}
		used[address] = entries
	}

	opts := []solana.TransactionOption{solana.TransactionPayer(payer)}
	if len(used) > 0 {
		opts = append(opts, solana.TransactionAddressTables(used))
	}

	tx, err := solana.NewTransaction(b.Instructions(update), blockhash, opts...)
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrCompile, err.Error())
	}
	tx.Message.SetVersion(solana.MessageVersionV0)

	if n := accountCount(&tx.Message); n > MaxAccountKeys {
		return nil, errorsmod.Wrapf(types.ErrCompile, "message addresses %d accounts, limit is %d", n, MaxAccountKeys)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrCompile, err.Error())
	}

	// compact-u16 signature count plus one signature per required signer
	size := len(msg) + 1 + int(tx.Message.Header.NumRequiredSignatures)*solana.SignatureLength
	if size > MaxTransactionSize {
		return nil, errorsmod.Wrapf(types.ErrCompile, "transaction is %d bytes, limit is %d", size, MaxTransactionSize)
	}

	return tx, nil
}

func accountCount(msg *solana.Message) int {
	n := len(msg.AccountKeys)
	for _, lookup := range msg.AddressTableLookups {
		n += len(lookup.WritableIndexes) + len(lookup.ReadonlyIndexes)
	}
	return n
}
