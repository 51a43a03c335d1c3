package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/crank/oracle/instruction"
	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/testutil"
	"github.com/GPTx-global/crank/oracle/types"
)

type PipelineTestSuite struct {
	suite.Suite
	ctx    context.Context
	ledger *testutil.FakeLedger
	key    solana.PrivateKey
	opts   Options
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func (suite *PipelineTestSuite) SetupSuite() {
	log.InitLogger()
}

func (suite *PipelineTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.ledger = testutil.NewFakeLedger(suite.T())
	suite.key = solana.NewWallet().PrivateKey
	suite.opts = Options{
		Commitment:     rpc.CommitmentConfirmed,
		ConfirmTimeout: 200 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}
}

func (suite *PipelineTestSuite) compile(payer solana.PublicKey) *solana.Transaction {
	update := testutil.UpdateInstruction(solana.NewWallet().PublicKey(), payer)
	builder := instruction.Builder{ComputeUnitLimit: 1_400_000, ComputeUnitPrice: 1}

	tx, err := builder.Compile(payer, update, nil, suite.ledger.Blockhash.Hash)
	suite.Require().NoError(err)
	return tx
}

func (suite *PipelineTestSuite) pipeline() *Pipeline {
	return New(suite.ledger, suite.key, suite.opts)
}

func (suite *PipelineTestSuite) stageOf(err error) types.Stage {
	var se *types.StageError
	suite.Require().True(errors.As(err, &se), "expected a stage error, got %v", err)
	return se.Stage
}

func (suite *PipelineTestSuite) TestExecute_Confirmed() {
	tx := suite.compile(suite.key.PublicKey())
	p := suite.pipeline()

	outcome, err := p.Execute(suite.ctx, tx, suite.ledger.Blockhash.LastValidBlockHeight)
	suite.Require().NoError(err)
	suite.True(outcome.Confirmed())
	suite.Equal(types.StageConfirmed, p.Stage())
	suite.Equal(tx.Signatures[0], outcome.Signature)
	suite.Equal(p.Signature(), outcome.Signature)

	suite.Equal(1, suite.ledger.SimulateCount())
	suite.Equal(1, suite.ledger.SendCount())
	suite.Equal(suite.ledger.Simulated[0], suite.ledger.Sent[0])
}

func (suite *PipelineTestSuite) TestExecute_Finalized() {
	suite.ledger.Status.ConfirmationStatus = rpc.ConfirmationStatusFinalized
	suite.opts.Commitment = rpc.CommitmentFinalized

	outcome, err := suite.pipeline().Execute(suite.ctx, suite.compile(suite.key.PublicKey()), 150)
	suite.Require().NoError(err)
	suite.True(outcome.Confirmed())
}

func (suite *PipelineTestSuite) TestExecute_SimulationRejected() {
	suite.ledger.SimulationErr = map[string]any{"InstructionError": []any{2, map[string]any{"Custom": 6030}}}
	suite.ledger.SimulationLogs = []string{
		"Program log: Instruction: PullFeedSubmitResponse",
		"Program log: NotEnoughSamples",
	}

	p := suite.pipeline()
	outcome, err := p.Execute(suite.ctx, suite.compile(suite.key.PublicKey()), 150)

	suite.ErrorIs(err, types.ErrSimulationRejected)
	suite.True(types.Retryable(err))
	suite.Equal(types.StageRejected, p.Stage())
	suite.Equal(types.StageRejected, suite.stageOf(err))
	suite.Equal(suite.ledger.SimulationLogs, outcome.Logs)
	suite.Equal(err, outcome.Err)
	suite.False(outcome.Confirmed())

	suite.Equal(1, suite.ledger.SimulateCount())
	suite.Equal(0, suite.ledger.SendCount())

	// a rejected pipeline stays rejected
	_, err = p.Submit(suite.ctx)
	suite.ErrorIs(err, types.ErrSimulationRejected)
	suite.Equal(0, suite.ledger.SendCount())
}

func (suite *PipelineTestSuite) TestExecute_SignerIsNotPayer() {
	tx := suite.compile(solana.NewWallet().PublicKey())
	p := suite.pipeline()

	_, err := p.Execute(suite.ctx, tx, 150)
	suite.ErrorIs(err, types.ErrSigning)
	suite.Equal(types.ErrConfiguration, types.Class(err))
	suite.Equal(types.StageBuilt, suite.stageOf(err))
	suite.Equal(0, suite.ledger.SimulateCount())
}

func (suite *PipelineTestSuite) TestExecute_NoTransaction() {
	_, err := suite.pipeline().Execute(suite.ctx, nil, 150)
	suite.ErrorIs(err, types.ErrCompile)
}

func (suite *PipelineTestSuite) TestExecute_SendFails() {
	suite.ledger.SendErr = errors.New("node is behind")

	p := suite.pipeline()
	outcome, err := p.Execute(suite.ctx, suite.compile(suite.key.PublicKey()), 150)

	suite.ErrorIs(err, types.ErrSubmission)
	suite.True(types.Ambiguous(err))
	suite.False(types.Retryable(err))
	suite.Equal(types.StageSimulated, outcome.Stage)
	suite.Equal(1, suite.ledger.SendCount())
}

func (suite *PipelineTestSuite) TestExecute_TransactionFailed() {
	suite.ledger.Status.Err = map[string]any{"InstructionError": []any{2, "InvalidAccountData"}}

	_, err := suite.pipeline().Execute(suite.ctx, suite.compile(suite.key.PublicKey()), 150)
	suite.ErrorIs(err, types.ErrSubmission)
	suite.ErrorContains(err, "slot 42")
}

func (suite *PipelineTestSuite) TestExecute_BlockhashExpired() {
	suite.ledger.Status = nil
	suite.ledger.BlockHeight = 151

	p := suite.pipeline()
	_, err := p.Execute(suite.ctx, suite.compile(suite.key.PublicKey()), 150)

	suite.ErrorIs(err, types.ErrSubmission)
	suite.NotErrorIs(err, types.ErrConfirmationTimeout)
	suite.ErrorContains(err, "blockhash expired")
	suite.Equal(types.StageSubmitted, p.Stage())
}

func (suite *PipelineTestSuite) TestExecute_ConfirmationTimeout() {
	suite.ledger.Status = nil

	start := time.Now()
	p := suite.pipeline()
	outcome, err := p.Execute(suite.ctx, suite.compile(suite.key.PublicKey()), 150)

	suite.GreaterOrEqual(time.Since(start), suite.opts.ConfirmTimeout)
	suite.ErrorIs(err, types.ErrConfirmationTimeout)
	suite.ErrorIs(err, types.ErrSubmission)
	suite.True(types.Ambiguous(err))
	suite.Equal(types.StageSubmitted, outcome.Stage)
	suite.Equal(types.StageSubmitted, suite.stageOf(err))
	suite.NotEqual(solana.Signature{}, outcome.Signature)
}

func (suite *PipelineTestSuite) TestExecute_CommitmentNotReached() {
	suite.ledger.Status.ConfirmationStatus = rpc.ConfirmationStatusProcessed

	_, err := suite.pipeline().Execute(suite.ctx, suite.compile(suite.key.PublicKey()), 150)
	suite.ErrorIs(err, types.ErrConfirmationTimeout)
}

func (suite *PipelineTestSuite) TestExecute_SimulationTransportError() {
	suite.ledger.RPCErr = errors.New("connection refused")

	_, err := suite.pipeline().Execute(suite.ctx, suite.compile(suite.key.PublicKey()), 150)
	suite.ErrorContains(err, "connection refused")
	suite.Nil(types.Class(err))
	suite.Equal(types.StageSigned, suite.stageOf(err))
}

func (suite *PipelineTestSuite) TestSteps_OutOfOrder() {
	p := suite.pipeline()

	_, err := p.Simulate(suite.ctx)
	suite.ErrorIs(err, types.ErrCompile)

	suite.Require().NoError(p.Prepare(suite.compile(suite.key.PublicKey()), 150))

	_, err = p.Submit(suite.ctx)
	suite.ErrorIs(err, types.ErrCompile)
	suite.ErrorIs(p.Confirm(suite.ctx), types.ErrCompile)

	// skipped steps leave the pipeline usable
	suite.Equal(types.StageBuilt, p.Stage())
	suite.Require().NoError(p.Sign())
	suite.ErrorIs(p.Sign(), types.ErrCompile)

	_, err = p.Simulate(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(0, suite.ledger.SendCount())
}

func (suite *PipelineTestSuite) TestPrepare_Reuse() {
	p := suite.pipeline()
	_, err := p.Execute(suite.ctx, suite.compile(suite.key.PublicKey()), 150)
	suite.Require().NoError(err)

	_, err = p.Execute(suite.ctx, suite.compile(suite.key.PublicKey()), 150)
	suite.ErrorIs(err, types.ErrCompile)
	suite.ErrorContains(err, "already used")
	suite.Equal(1, suite.ledger.SendCount())
}

func (suite *PipelineTestSuite) TestSubmit_RejectsChangedTransaction() {
	tx := suite.compile(suite.key.PublicKey())
	p := suite.pipeline()

	suite.Require().NoError(p.Prepare(tx, 150))
	suite.Require().NoError(p.Sign())
	_, err := p.Simulate(suite.ctx)
	suite.Require().NoError(err)

	tx.Message.RecentBlockhash = solana.Hash{5}

	_, err = p.Submit(suite.ctx)
	suite.ErrorIs(err, types.ErrCompile)
	suite.ErrorContains(err, "changed after simulation")
	suite.Equal(0, suite.ledger.SendCount())
}
