package crank

import (
	"context"
	"errors"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/GPTx-global/crank/oracle/aggregator"
	"github.com/GPTx-global/crank/oracle/gateway"
	"github.com/GPTx-global/crank/oracle/instruction"
	"github.com/GPTx-global/crank/oracle/ledger"
	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/pipeline"
	"github.com/GPTx-global/crank/oracle/queue"
	"github.com/GPTx-global/crank/oracle/telemetry"
	"github.com/GPTx-global/crank/oracle/types"
)

// Params is everything one run needs, set explicitly by the caller.
type Params struct {
	Queue           solana.PublicKey
	Feed            types.Feed
	Payer           solana.PublicKey
	Selector        gateway.Selector
	Resolver        gateway.Resolver // nil lets the gateway resolve the feed
	NumSignatures   int
	QuorumThreshold int
	Fees            instruction.Builder
	Pipeline        pipeline.Options
}

// Validate reports incomplete params as types.ErrConfiguration.
func (p Params) Validate() error {
	switch {
	case p.Queue.IsZero():
		return errorsmod.Wrap(types.ErrConfiguration, "queue address is required")
	case p.Feed.Address.IsZero():
		return errorsmod.Wrap(types.ErrConfiguration, "feed address is required")
	case p.Payer.IsZero():
		return errorsmod.Wrap(types.ErrConfiguration, "payer is required")
	case p.Selector == nil:
		return errorsmod.Wrap(types.ErrConfiguration, "gateway selector is required")
	case p.NumSignatures <= 0:
		return errorsmod.Wrapf(types.ErrConfiguration, "signature count %d must be positive", p.NumSignatures)
	case p.QuorumThreshold <= 0 || p.QuorumThreshold > p.NumSignatures:
		return errorsmod.Wrapf(types.ErrConfiguration, "quorum threshold %d must be within 1..%d", p.QuorumThreshold, p.NumSignatures)
	}
	return nil
}

// Querier asks gateways for attestations.
type Querier interface {
	Query(ctx context.Context, req gateway.Request, gateways []types.Gateway) ([]gateway.Reply, error)
}

type Deps struct {
	Ledger   ledger.Client
	Gateways Querier
	Signer   pipeline.Signer
	Prober   queue.Prober // optional
}

// Crank refreshes one feed. It holds no state between runs.
type Crank struct {
	ledger   ledger.Client
	gateways Querier
	signer   pipeline.Signer
	registry *queue.Registry
	params   Params
}

// New validates params and checks that the signer is the payer.
func New(deps Deps, params Params) (*Crank, error) {
	if deps.Ledger == nil || deps.Gateways == nil || deps.Signer == nil {
		return nil, errorsmod.Wrap(types.ErrConfiguration, "ledger, gateway client and signer are required")
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	if !deps.Signer.PublicKey().Equals(params.Payer) {
		return nil, errorsmod.Wrapf(types.ErrSigning, "signer %s is not the payer %s", deps.Signer.PublicKey(), params.Payer)
	}

	registry := queue.NewRegistry(deps.Ledger)
	if deps.Prober != nil {
		registry.WithProber(deps.Prober)
	}

	return &Crank{
		ledger:   deps.Ledger,
		gateways: deps.Gateways,
		signer:   deps.Signer,
		registry: registry,
		params:   params,
	}, nil
}

func (c *Crank) Params() Params {
	return c.params
}

// Gateways loads the queue and resolves its gateways.
func (c *Crank) Gateways(ctx context.Context) ([]types.Gateway, error) {
	q, err := c.registry.Load(ctx, c.params.Queue)
	if err != nil {
		return nil, err
	}

	return c.registry.FetchGateways(ctx, q)
}

// Update is an attested update ready to compile.
type Update struct {
	Instruction  *types.UpdateInstruction
	Responses    []types.OracleResponse
	SuccessCount int
	LookupTables types.LookupTables
	Gateway      string
}

// FetchUpdate selects gateways, collects attestations, checks quorum and
// resolves the lookup tables the update references. Errors are
// *types.StageError.
func (c *Crank) FetchUpdate(ctx context.Context, gateways []types.Gateway) (*Update, error) {
	selected, err := c.params.Selector.Select(gateways)
	if err != nil {
		return nil, types.NewStageError(types.StageResolve, err)
	}

	req := gateway.Request{
		Feed:          c.params.Feed,
		Payer:         c.params.Payer,
		NumSignatures: c.params.NumSignatures,
	}

	if c.params.Resolver != nil {
		if req.Jobs, err = c.params.Resolver.Resolve(ctx, c.params.Feed); err != nil {
			return nil, types.NewStageError(types.StageAttest, err)
		}
	}

	start := time.Now()
	replies, err := c.gateways.Query(ctx, req, selected)
	telemetry.MeasureSince(start, "gateway", "fetch")
	if err != nil {
		return nil, types.NewStageError(types.StageAttest, err)
	}

	sel, err := aggregator.Aggregate(replies, c.params.QuorumThreshold)
	if err != nil {
		return nil, types.NewStageError(types.StageAggregate, err)
	}
	telemetry.SetSuccessCount(sel.SuccessCount)

	tables, err := ledger.LoadLookupTables(ctx, c.ledger, sel.Instruction.LookupTables)
	if err != nil {
		return nil, types.NewStageError(types.StageCompile, err)
	}

	return &Update{
		Instruction:  sel.Instruction,
		Responses:    sel.Responses,
		SuccessCount: sel.SuccessCount,
		LookupTables: tables,
		Gateway:      sel.Gateway,
	}, nil
}

// Run performs one full attempt: resolve, attest, compile, then land the
// transaction through a fresh pipeline. The outcome is always non-nil.
func (c *Crank) Run(ctx context.Context) (*types.PipelineOutcome, error) {
	runID := uuid.NewString()
	logger := log.With("run_id", runID, "feed", c.params.Feed.String())
	start := time.Now()

	outcome, err := c.run(ctx, logger)
	outcome.RunID = runID
	telemetry.RecordRun(outcome.Stage, err, start)

	if err != nil {
		logger.Errorw("run failed", "stage", outcome.Stage.String(), "error", err)
		for _, line := range outcome.Logs {
			logger.Debug(line)
		}
		return outcome, err
	}

	logger.Infow("run confirmed", "signature", outcome.Signature.String(), "success_count", outcome.SuccessCount)
	return outcome, nil
}

type runLogger interface {
	Infof(template string, args ...any)
	Infow(msg string, keysAndValues ...any)
}

func (c *Crank) run(ctx context.Context, logger runLogger) (*types.PipelineOutcome, error) {
	gateways, err := c.Gateways(ctx)
	if err != nil {
		return failure(types.NewStageError(types.StageResolve, err))
	}
	logger.Infof("queue %s has %d gateways", c.params.Queue, len(gateways))

	update, err := c.FetchUpdate(ctx, gateways)
	if err != nil {
		return failure(err)
	}

	logger.Infow("attested", "gateway", update.Gateway, "success_count", update.SuccessCount)
	for i, r := range update.Responses {
		logger.Infof("%d: %s from %s", i, r.ValueString(), r.Oracle)
	}

	blockhash, err := c.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return failure(types.NewStageError(types.StageCompile, err))
	}

	tx, err := c.params.Fees.Compile(c.params.Payer, update.Instruction, update.LookupTables, blockhash.Hash)
	if err != nil {
		return failure(types.NewStageError(types.StageCompile, err))
	}

	start := time.Now()
	p := pipeline.New(c.ledger, c.signer, c.params.Pipeline)
	outcome, err := p.Execute(ctx, tx, blockhash.LastValidBlockHeight)
	outcome.SuccessCount = update.SuccessCount
	if outcome.Stage >= types.StageSubmitted {
		telemetry.MeasureSince(start, "pipeline", "land")
	}

	return outcome, err
}

func failure(err error) (*types.PipelineOutcome, error) {
	outcome := &types.PipelineOutcome{Err: err}

	var se *types.StageError
	if errors.As(err, &se) {
		outcome.Stage = se.Stage
		outcome.Logs = se.Logs
	}

	return outcome, err
}
