package pipeline

import (
	"bytes"
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/davecgh/go-spew/spew"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/GPTx-global/crank/oracle/ledger"
	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/types"
)

// Signer produces the payer signature. solana.PrivateKey satisfies it.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(payload []byte) (solana.Signature, error)
}

// Ledger is the part of the RPC boundary the pipeline drives.
type Ledger interface {
	GetBlockHeight(ctx context.Context) (uint64, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*ledger.SimulationResult, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*ledger.SignatureStatus, error)
}

type Options struct {
	Commitment     rpc.CommitmentType
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Pipeline lands one compiled transaction:
// Built -> Signed -> Simulated -> (Rejected | Submitted) -> Confirmed.
// An instance handles exactly one attempt; any failure is terminal.
type Pipeline struct {
	ledger Ledger
	signer Signer
	opts   Options

	loaded    bool
	stage     types.Stage
	tx        *solana.Transaction
	lastValid uint64
	simulated []byte
	logs      []string
	signature solana.Signature
	err       error
}

// New returns a pipeline for a single attempt. Zero options take the
// confirmed commitment, a 60s confirmation timeout and a 500ms poll.
func New(l Ledger, signer Signer, opts Options) *Pipeline {
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	return &Pipeline{
		ledger: l,
		signer: signer,
		opts:   opts,
	}
}

// Stage returns the furthest state reached.
func (p *Pipeline) Stage() types.Stage {
	return p.stage
}

// Signature is the payer signature, set once the transaction is signed.
func (p *Pipeline) Signature() solana.Signature {
	return p.signature
}

// Logs returns the program logs reported by simulation.
func (p *Pipeline) Logs() []string {
	return p.logs
}

// Execute runs every step once and reports the outcome. The returned error,
// when set, is a *types.StageError and equals the outcome's Err.
func (p *Pipeline) Execute(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) (*types.PipelineOutcome, error) {
	err := p.Prepare(tx, lastValidBlockHeight)
	if err == nil {
		err = p.Sign()
	}
	if err == nil {
		_, err = p.Simulate(ctx)
	}
	if err == nil {
		_, err = p.Submit(ctx)
	}
	if err == nil {
		err = p.Confirm(ctx)
	}

	return p.Outcome(), err
}

// Outcome reports where the pipeline stands.
func (p *Pipeline) Outcome() *types.PipelineOutcome {
	return &types.PipelineOutcome{
		Signature: p.signature,
		Stage:     p.stage,
		Logs:      p.logs,
		Err:       p.err,
	}
}

// Prepare loads the compiled transaction. This is the Built state.
func (p *Pipeline) Prepare(tx *solana.Transaction, lastValidBlockHeight uint64) error {
	if p.loaded {
		return errorsmod.Wrap(types.ErrCompile, "pipeline already used")
	}
	p.loaded = true
	p.stage = types.StageBuilt

	if tx == nil {
		return p.fail(errorsmod.Wrap(types.ErrCompile, "no transaction"))
	}

	p.tx = tx
	p.lastValid = lastValidBlockHeight
	return nil
}

func (p *Pipeline) expect(stage types.Stage) error {
	if p.err != nil {
		return p.err
	}
	if !p.loaded || p.stage != stage {
		return errorsmod.Wrapf(types.ErrCompile, "step requires stage %s, pipeline is at %s", stage, p.stage)
	}
	return nil
}

func (p *Pipeline) fail(err error) error {
	p.err = types.NewStageError(p.stage, err, p.logs...)
	return p.err
}

// Sign signs the message as the fee payer, the only signer.
func (p *Pipeline) Sign() error {
	if err := p.expect(types.StageBuilt); err != nil {
		return err
	}

	msg := &p.tx.Message
	payer := p.signer.PublicKey()

	if n := msg.Header.NumRequiredSignatures; n != 1 {
		return p.fail(errorsmod.Wrapf(types.ErrSigning, "message requires %d signatures, only the payer signs", n))
	}
	if len(msg.AccountKeys) == 0 || !msg.AccountKeys[0].Equals(payer) {
		return p.fail(errorsmod.Wrapf(types.ErrSigning, "fee payer does not match signer %s", payer))
	}

	content, err := msg.MarshalBinary()
	if err != nil {
		return p.fail(errorsmod.Wrapf(types.ErrSigning, "failed to serialize message: %v", err))
	}

	sig, err := p.signer.Sign(content)
	if err != nil {
		return p.fail(errorsmod.Wrap(types.ErrSigning, err.Error()))
	}
	if !sig.Verify(payer, content) {
		return p.fail(errorsmod.Wrapf(types.ErrSigning, "signature does not verify against %s", payer))
	}

	p.tx.Signatures = []solana.Signature{sig}
	p.signature = sig
	p.stage = types.StageSigned
	return nil
}

// Simulate runs the signed transaction on the simulation endpoint. An
// execution error moves the pipeline to Rejected and nothing is sent.
func (p *Pipeline) Simulate(ctx context.Context) (*ledger.SimulationResult, error) {
	if err := p.expect(types.StageSigned); err != nil {
		return nil, err
	}

	wire, err := p.tx.MarshalBinary()
	if err != nil {
		return nil, p.fail(errorsmod.Wrapf(types.ErrCompile, "failed to serialize transaction: %v", err))
	}

	res, err := p.ledger.SimulateTransaction(ctx, p.tx)
	if err != nil {
		return nil, p.fail(err)
	}

	p.logs = res.Logs
	for _, line := range res.Logs {
		log.Debugf("sim: %s", line)
	}

	if res.Err != nil {
		p.stage = types.StageRejected
		log.Debugf("simulation error:\n%s", spew.Sdump(res.Err))
		return res, p.fail(errorsmod.Wrapf(types.ErrSimulationRejected, "%v", res.Err))
	}

	p.simulated = wire
	p.stage = types.StageSimulated
	log.Debugf("simulation ok, %d compute units", res.UnitsConsumed)
	return res, nil
}

// Submit sends exactly the bytes that were simulated.
func (p *Pipeline) Submit(ctx context.Context) (solana.Signature, error) {
	if err := p.expect(types.StageSimulated); err != nil {
		return solana.Signature{}, err
	}

	wire, err := p.tx.MarshalBinary()
	if err != nil || !bytes.Equal(wire, p.simulated) {
		return solana.Signature{}, p.fail(errorsmod.Wrap(types.ErrCompile, "transaction changed after simulation"))
	}

	sig, err := p.ledger.SendTransaction(ctx, p.tx)
	if err != nil {
		return solana.Signature{}, p.fail(errorsmod.Wrap(types.ErrSubmission, err.Error()))
	}
	if !sig.Equals(p.signature) {
		log.Errorf("node returned signature %s, expected %s", sig, p.signature)
	}

	p.stage = types.StageSubmitted
	log.Infof("submitted %s", p.signature)
	return p.signature, nil
}

// Confirm polls the signature status until the commitment level is reached,
// the blockhash expires, or the confirmation timeout passes.
func (p *Pipeline) Confirm(ctx context.Context) error {
	if err := p.expect(types.StageSubmitted); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		status, err := p.ledger.GetSignatureStatus(ctx, p.signature)
		switch {
		case err != nil:
			log.Debugf("signature status: %v", err)
		case status != nil && status.Err != nil:
			return p.fail(errorsmod.Wrapf(types.ErrSubmission, "transaction failed in slot %d: %v", status.Slot, status.Err))
		case status != nil && ledger.Reached(status.ConfirmationStatus, p.opts.Commitment):
			p.stage = types.StageConfirmed
			log.Infof("confirmed %s in slot %d", p.signature, status.Slot)
			return nil
		case status == nil:
			height, err := p.ledger.GetBlockHeight(ctx)
			if err == nil && height > p.lastValid {
				return p.fail(errorsmod.Wrapf(types.ErrSubmission, "blockhash expired at block height %d", p.lastValid))
			}
		}

		select {
		case <-ctx.Done():
			return p.fail(errorsmod.Wrapf(types.ErrConfirmationTimeout, "%s not %s after %s", p.signature, p.opts.Commitment, p.opts.ConfirmTimeout))
		case <-ticker.C:
		}
	}
}
