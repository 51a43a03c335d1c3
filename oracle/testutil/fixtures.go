package testutil

import (
	"bytes"
	"encoding/base64"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/tidwall/sjson"

	"github.com/GPTx-global/crank/oracle/queue"
	"github.com/GPTx-global/crank/oracle/types"
)

// EncodeQueue lays out a queue account holding oracleKeys.
func EncodeQueue(authority solana.PublicKey, oracleKeys []solana.PublicKey) []byte {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)

	_ = enc.WriteBytes(queue.QueueDiscriminator[:], false)
	_ = enc.WriteBytes(authority[:], false)
	_ = enc.WriteBytes(make([]byte, 32*32), false)

	keys := make([]byte, 78*32)
	for i, key := range oracleKeys {
		copy(keys[i*32:], key[:])
	}
	_ = enc.WriteBytes(keys, false)

	for _, v := range []int64{
		60,            // max quote verification age
		1_700_000_000, // last heartbeat
		180,           // node timeout
	} {
		_ = enc.WriteInt64(v, bin.LE)
	}
	_ = enc.WriteUint64(0, bin.LE) // oracle min stake
	_ = enc.WriteInt64(0, bin.LE)  // authority override window

	_ = enc.WriteUint32(0, bin.LE)
	_ = enc.WriteUint32(uint32(len(oracleKeys)), bin.LE)
	_ = enc.WriteBytes(make([]byte, 64), false)

	return buf.Bytes()
}

// EncodeOracle lays out an oracle account advertising gatewayURI.
func EncodeOracle(queueAddress solana.PublicKey, gatewayURI string) []byte {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)

	_ = enc.WriteBytes(queue.OracleDiscriminator[:], false)
	_ = enc.WriteBytes(make([]byte, 32), false) // enclave signer
	_ = enc.WriteBytes(make([]byte, 32), false) // authority
	_ = enc.WriteBytes(queueAddress[:], false)
	_ = enc.WriteInt64(1_690_000_000, bin.LE)
	_ = enc.WriteInt64(1_700_000_000, bin.LE)

	uri := make([]byte, 64)
	copy(uri, gatewayURI)
	_ = enc.WriteBytes(uri, false)

	return buf.Bytes()
}

// EncodeLookupTable lays out an active address lookup table.
func EncodeLookupTable(authority solana.PublicKey, addresses []solana.PublicKey) []byte {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)

	_ = enc.WriteUint32(1, bin.LE) // lookup table state
	_ = enc.WriteUint64(math.MaxUint64, bin.LE)
	_ = enc.WriteUint64(0, bin.LE)
	_ = enc.WriteUint8(0)
	_ = enc.WriteUint8(1)
	_ = enc.WriteBytes(authority[:], false)
	_ = enc.WriteUint16(0, bin.LE)

	for _, address := range addresses {
		_ = enc.WriteBytes(address[:], false)
	}

	return buf.Bytes()
}

// SeedQueue stores a queue whose oracles advertise uris, in order, and
// returns the oracle keys.
func SeedQueue(l *FakeLedger, queueAddress solana.PublicKey, uris ...string) []solana.PublicKey {
	keys := make([]solana.PublicKey, len(uris))
	for i, uri := range uris {
		keys[i] = solana.NewWallet().PublicKey()
		l.SetAccount(keys[i], EncodeOracle(queueAddress, uri))
	}

	l.SetAccount(queueAddress, EncodeQueue(solana.NewWallet().PublicKey(), keys))
	return keys
}

// OracleReply is one entry of a fetch_update response. An empty Value
// reports Error instead.
type OracleReply struct {
	Oracle solana.PublicKey
	Value  string
	Error  string
}

// Replies returns n replies from distinct oracles; the first ok of them
// carry values.
func Replies(n, ok int) []OracleReply {
	out := make([]OracleReply, n)
	for i := range out {
		out[i].Oracle = solana.NewWallet().PublicKey()
		if i < ok {
			out[i].Value = "64250000000000000000000"
		} else {
			out[i].Error = "price source unavailable"
		}
	}
	return out
}

// UpdateProgram stands in for the on-chain oracle program.
var UpdateProgram = solana.NewWallet().PublicKey()

// UpdateInstruction returns a plausible feed update instruction.
func UpdateInstruction(feed, payer solana.PublicKey, tables ...solana.PublicKey) *types.UpdateInstruction {
	return &types.UpdateInstruction{
		Program: UpdateProgram,
		AccountMetas: solana.AccountMetaSlice{
			solana.NewAccountMeta(feed, true, false),
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(solana.SysVarSlotHashesPubkey, false, false),
		},
		Payload:      []byte{0x9a, 0x1f, 0x02, 0x05, 0x01, 0x02, 0x03},
		LookupTables: tables,
	}
}

// FetchUpdateBody renders a fetch_update response.
func FetchUpdateBody(ix *types.UpdateInstruction, replies []OracleReply) []byte {
	body := []byte(`{"instruction":{"accounts":[]},"lookup_tables":[],"oracle_responses":[]}`)

	body, _ = sjson.SetBytes(body, "instruction.program_id", ix.Program.String())
	body, _ = sjson.SetBytes(body, "instruction.data", base64.StdEncoding.EncodeToString(ix.Payload))
	for _, meta := range ix.AccountMetas {
		body, _ = sjson.SetBytes(body, "instruction.accounts.-1", map[string]any{
			"pubkey":      meta.PublicKey.String(),
			"is_signer":   meta.IsSigner,
			"is_writable": meta.IsWritable,
		})
	}

	for _, table := range ix.LookupTables {
		body, _ = sjson.SetBytes(body, "lookup_tables.-1", table.String())
	}

	for _, r := range replies {
		entry := map[string]any{
			"oracle_pubkey": r.Oracle.String(),
			"signature":     base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 64)),
		}
		if r.Value != "" {
			entry["success_value"] = r.Value
		} else {
			entry["failure_error"] = r.Error
		}
		body, _ = sjson.SetBytes(body, "oracle_responses.-1", entry)
	}

	return body
}

// GatewayServer serves a fixed fetch_update body and answers the probe.
// Hits counts fetch_update requests.
type GatewayServer struct {
	*httptest.Server
	Hits atomic.Int32
	Last atomic.Value // last request body, []byte
}

// NewGatewayServer answers fetch_update with status and body. It is closed
// when the test ends.
func NewGatewayServer(t testing.TB, status int, body []byte) *GatewayServer {
	gs := &GatewayServer{}
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gateway/api/v1/test":
			w.WriteHeader(http.StatusOK)
		case "/gateway/api/v1/fetch_update":
			gs.Hits.Add(1)
			var req bytes.Buffer
			_, _ = req.ReadFrom(r.Body)
			gs.Last.Store(req.Bytes())

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(gs.Close)

	return gs
}
