package gateway

import (
	"encoding/base64"
	"fmt"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/tidwall/gjson"

	"github.com/GPTx-global/crank/oracle/types"
)

func malformed(gw types.Gateway, format string, args ...any) error {
	return errorsmod.Wrapf(types.ErrMalformedResponse, "%s: %s", gw.Endpoint, fmt.Sprintf(format, args...))
}

// decodeReply parses a fetch_update response body.
func decodeReply(gw types.Gateway, raw []byte) (*Reply, error) {
	if !gjson.ValidBytes(raw) {
		return nil, malformed(gw, "invalid JSON")
	}
	doc := gjson.ParseBytes(raw)

	ix, err := decodeInstruction(gw, doc.Get("instruction"))
	if err != nil {
		return nil, err
	}

	var tables []solana.PublicKey
	for _, t := range doc.Get("lookup_tables").Array() {
		key, err := solana.PublicKeyFromBase58(t.String())
		if err != nil {
			return nil, malformed(gw, "lookup table %q: %v", t.String(), err)
		}
		tables = append(tables, key)
	}
	ix.LookupTables = tables

	list := doc.Get("oracle_responses")
	if !list.IsArray() {
		return nil, malformed(gw, "oracle_responses missing")
	}

	responses := make([]types.OracleResponse, 0, len(list.Array()))
	for i, r := range list.Array() {
		resp, err := decodeResponse(gw, r)
		if err != nil {
			return nil, malformed(gw, "oracle response %d: %v", i, err)
		}
		responses = append(responses, resp)
	}

	return &Reply{
		Gateway:     gw,
		Instruction: ix,
		Responses:   responses,
	}, nil
}

func decodeInstruction(gw types.Gateway, doc gjson.Result) (*types.UpdateInstruction, error) {
	if !doc.IsObject() {
		return nil, malformed(gw, "instruction missing")
	}

	program, err := solana.PublicKeyFromBase58(doc.Get("program_id").String())
	if err != nil {
		return nil, malformed(gw, "program id: %v", err)
	}

	var metas solana.AccountMetaSlice
	for i, acc := range doc.Get("accounts").Array() {
		key, err := solana.PublicKeyFromBase58(acc.Get("pubkey").String())
		if err != nil {
			return nil, malformed(gw, "account %d: %v", i, err)
		}
		metas = append(metas, solana.NewAccountMeta(key, acc.Get("is_writable").Bool(), acc.Get("is_signer").Bool()))
	}

	data, err := base64.StdEncoding.DecodeString(doc.Get("data").String())
	if err != nil {
		return nil, malformed(gw, "instruction data: %v", err)
	}
	if len(data) == 0 {
		return nil, malformed(gw, "instruction data is empty")
	}

	return &types.UpdateInstruction{
		Program:      program,
		AccountMetas: metas,
		Payload:      data,
	}, nil
}

// decodeResponse reads one attestation. A failure_error wins over any value.
func decodeResponse(gw types.Gateway, r gjson.Result) (types.OracleResponse, error) {
	resp := types.OracleResponse{
		Gateway: gw.Endpoint,
		Error:   strings.TrimSpace(r.Get("failure_error").String()),
	}

	oracle, err := solana.PublicKeyFromBase58(r.Get("oracle_pubkey").String())
	if err != nil {
		return resp, fmt.Errorf("oracle pubkey: %w", err)
	}
	resp.Oracle = oracle

	if sig := r.Get("signature").String(); sig != "" {
		if resp.Signature, err = base64.StdEncoding.DecodeString(sig); err != nil {
			return resp, fmt.Errorf("signature: %w", err)
		}
	}

	if resp.Error != "" {
		return resp, nil
	}

	v := r.Get("success_value")
	if !v.Exists() || v.Type == gjson.Null {
		resp.Error = "no value reported"
		return resp, nil
	}

	// Raw keeps large integers exact; String would go through float64.
	s := v.String()
	if v.Type == gjson.Number {
		s = v.Raw
	}
	if s == "" {
		resp.Error = "no value reported"
		return resp, nil
	}

	value, ok := math.NewIntFromString(s)
	if !ok {
		return resp, fmt.Errorf("success value %q is not an integer", s)
	}
	resp.Value = value

	return resp, nil
}
