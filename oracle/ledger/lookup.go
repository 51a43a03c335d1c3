package ledger

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"

	"github.com/GPTx-global/crank/oracle/types"
)

// LoadLookupTables fetches and decodes the referenced address lookup tables.
// A table that is missing or undecodable leaves the message uncompilable.
func LoadLookupTables(ctx context.Context, client Client, addresses []solana.PublicKey) (types.LookupTables, error) {
	tables := make(types.LookupTables, len(addresses))
	if len(addresses) == 0 {
		return tables, nil
	}

	data, err := client.GetMultipleAccountsData(ctx, addresses...)
	if err != nil {
		return nil, err
	}

	for i, address := range addresses {
		if i >= len(data) || data[i] == nil {
			return nil, errorsmod.Wrapf(types.ErrCompile, "lookup table %s not found", address)
		}

		state, err := addresslookuptable.DecodeAddressLookupTableState(data[i])
		if err != nil {
			return nil, errorsmod.Wrapf(types.ErrCompile, "failed to decode lookup table %s: %v", address, err)
		}

		tables[address] = state.Addresses
	}

	return tables, nil
}
