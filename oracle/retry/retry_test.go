package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/types"
)

type RetryTestSuite struct {
	suite.Suite
	cfg *Config
}

func TestRetryTestSuite(t *testing.T) {
	suite.Run(t, new(RetryTestSuite))
}

func (suite *RetryTestSuite) SetupSuite() {
	log.InitLogger()
}

func (suite *RetryTestSuite) SetupTest() {
	suite.cfg = &Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func (suite *RetryTestSuite) TestIsRetryable() {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"transport", errors.New("connection reset by peer"), true},
		{"no quorum", errorsmod.Wrap(types.ErrNoQuorum, "2 of 3"), true},
		{"unreachable", types.ErrGatewayUnreachable, true},
		{"rejected", types.NewStageError(types.StageRejected, types.ErrSimulationRejected), true},
		{"configuration", types.ErrEmptyQueue, false},
		{"compile", types.ErrCompile, false},
		{"submission", types.ErrSubmission, false},
		{"confirmation timeout", types.ErrConfirmationTimeout, false},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			suite.Equal(tc.want, IsRetryable(tc.err))
		})
	}
}

func (suite *RetryTestSuite) TestDo_SucceedsAfterRetries() {
	calls := 0
	err := Do(context.Background(), suite.cfg, func(_ context.Context, attempt int) error {
		calls++
		suite.Equal(calls, attempt)
		if attempt < 3 {
			return types.ErrNoQuorum
		}
		return nil
	}, IsRetryable)

	suite.NoError(err)
	suite.Equal(3, calls)
}

func (suite *RetryTestSuite) TestDo_StopsOnFinalError() {
	calls := 0
	err := Do(context.Background(), suite.cfg, func(context.Context, int) error {
		calls++
		return errorsmod.Wrap(types.ErrSubmission, "node is behind")
	}, IsRetryable)

	suite.ErrorIs(err, types.ErrSubmission)
	suite.Equal(1, calls)
}

func (suite *RetryTestSuite) TestDo_Exhausted() {
	calls := 0
	err := Do(context.Background(), suite.cfg, func(context.Context, int) error {
		calls++
		return types.ErrGatewayUnreachable
	}, IsRetryable)

	suite.ErrorIs(err, types.ErrGatewayUnreachable)
	suite.ErrorContains(err, "all 3 attempts failed")
	suite.Equal(3, calls)
}

func (suite *RetryTestSuite) TestDo_ContextCanceled() {
	ctx, cancel := context.WithCancel(context.Background())
	suite.cfg.BaseDelay = time.Second
	suite.cfg.MaxDelay = time.Second

	calls := 0
	err := Do(ctx, suite.cfg, func(context.Context, int) error {
		calls++
		cancel()
		return types.ErrNoQuorum
	}, IsRetryable)

	suite.ErrorIs(err, context.Canceled)
	suite.Equal(1, calls)
}

func (suite *RetryTestSuite) TestCalculateDelay() {
	cfg := &Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0}

	suite.Equal(time.Second, calculateDelay(cfg, 1))
	suite.Equal(2*time.Second, calculateDelay(cfg, 2))
	suite.Equal(4*time.Second, calculateDelay(cfg, 3))
	suite.Equal(5*time.Second, calculateDelay(cfg, 4))
}

func (suite *RetryTestSuite) TestCircuitBreaker() {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	fail := func() error { return types.ErrNoQuorum }
	ok := func() error { return nil }

	suite.ErrorIs(cb.Execute(fail), types.ErrNoQuorum)
	suite.Equal(StateClosed, cb.State())
	suite.ErrorIs(cb.Execute(fail), types.ErrNoQuorum)
	suite.Equal(StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	suite.ErrorIs(err, ErrCircuitOpen)
	suite.False(called)

	time.Sleep(60 * time.Millisecond)
	suite.ErrorIs(cb.Execute(fail), types.ErrNoQuorum)
	suite.Equal(StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)
	suite.NoError(cb.Execute(ok))
	suite.Equal(StateClosed, cb.State())
	suite.Equal("closed", cb.State().String())
}
