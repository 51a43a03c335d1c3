package queue

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	maxEnclaves   = 32
	maxOracleKeys = 78
	gatewayURILen = 64

	// discriminator, authority, enclaves, oracle keys, five 8-byte fields, two u32 lengths
	queueAccountMinSize = 8 + 32 + maxEnclaves*32 + maxOracleKeys*32 + 5*8 + 2*4
	// discriminator, enclave signer, authority, queue, two i64, gateway uri
	oracleAccountMinSize = 8 + 3*32 + 2*8 + gatewayURILen
)

var (
	QueueDiscriminator  = discriminator("QueueAccountData")
	OracleDiscriminator = discriminator("OracleAccountData")
)

// discriminator is the Anchor account prefix: sha256("account:<Name>")[:8].
func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))

	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// queueAccount is the prefix of the on-chain queue account that the crank reads.
type queueAccount struct {
	Authority                   solana.PublicKey
	OracleKeys                  []solana.PublicKey
	MaxQuoteVerificationAge     int64
	LastHeartbeat               int64
	NodeTimeout                 int64
	OracleMinStake              uint64
	AllowAuthorityOverrideAfter int64
	MrEnclavesLen               uint32
	OracleKeysLen               uint32
}

type oracleAccount struct {
	EnclaveSigner solana.PublicKey
	Authority     solana.PublicKey
	Queue         solana.PublicKey
	CreatedAt     int64
	LastHeartbeat int64
	GatewayURI    string
}

func checkDiscriminator(dec *bin.Decoder, want [8]byte) error {
	got, err := dec.ReadNBytes(8)
	if err != nil {
		return fmt.Errorf("read discriminator: %w", err)
	}

	if !bytes.Equal(got, want[:]) {
		return fmt.Errorf("unexpected discriminator %x", got)
	}

	return nil
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}

	return solana.PublicKeyFromBytes(raw), nil
}

func decodeQueueAccount(data []byte) (*queueAccount, error) {
	if len(data) < queueAccountMinSize {
		return nil, fmt.Errorf("queue account too short: %d < %d bytes", len(data), queueAccountMinSize)
	}

	dec := bin.NewBorshDecoder(data)
	if err := checkDiscriminator(dec, QueueDiscriminator); err != nil {
		return nil, err
	}

	var (
		acc queueAccount
		err error
	)

	if acc.Authority, err = readPublicKey(dec); err != nil {
		return nil, fmt.Errorf("read authority: %w", err)
	}

	if err = dec.SkipBytes(maxEnclaves * 32); err != nil {
		return nil, fmt.Errorf("skip enclaves: %w", err)
	}

	keys := make([]solana.PublicKey, maxOracleKeys)
	for i := range keys {
		if keys[i], err = readPublicKey(dec); err != nil {
			return nil, fmt.Errorf("read oracle key %d: %w", i, err)
		}
	}

	fields := []*int64{&acc.MaxQuoteVerificationAge, &acc.LastHeartbeat, &acc.NodeTimeout}
	for _, field := range fields {
		if *field, err = dec.ReadInt64(bin.LE); err != nil {
			return nil, fmt.Errorf("read queue field: %w", err)
		}
	}

	if acc.OracleMinStake, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("read oracle min stake: %w", err)
	}

	if acc.AllowAuthorityOverrideAfter, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, fmt.Errorf("read override window: %w", err)
	}

	if acc.MrEnclavesLen, err = dec.ReadUint32(bin.LE); err != nil {
		return nil, fmt.Errorf("read enclave count: %w", err)
	}

	if acc.OracleKeysLen, err = dec.ReadUint32(bin.LE); err != nil {
		return nil, fmt.Errorf("read oracle key count: %w", err)
	}

	if acc.OracleKeysLen > maxOracleKeys {
		return nil, fmt.Errorf("oracle key count %d exceeds capacity %d", acc.OracleKeysLen, maxOracleKeys)
	}

	acc.OracleKeys = keys[:acc.OracleKeysLen]
	return &acc, nil
}

func decodeOracleAccount(data []byte) (*oracleAccount, error) {
	if len(data) < oracleAccountMinSize {
		return nil, fmt.Errorf("oracle account too short: %d < %d bytes", len(data), oracleAccountMinSize)
	}

	dec := bin.NewBorshDecoder(data)
	if err := checkDiscriminator(dec, OracleDiscriminator); err != nil {
		return nil, err
	}

	var (
		acc oracleAccount
		err error
	)

	keys := []*solana.PublicKey{&acc.EnclaveSigner, &acc.Authority, &acc.Queue}
	for _, key := range keys {
		if *key, err = readPublicKey(dec); err != nil {
			return nil, fmt.Errorf("read oracle key field: %w", err)
		}
	}

	if acc.CreatedAt, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, fmt.Errorf("read created at: %w", err)
	}

	if acc.LastHeartbeat, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, fmt.Errorf("read last heartbeat: %w", err)
	}

	uri, err := dec.ReadNBytes(gatewayURILen)
	if err != nil {
		return nil, fmt.Errorf("read gateway uri: %w", err)
	}

	acc.GatewayURI = string(bytes.TrimRight(uri, "\x00"))
	return &acc, nil
}
