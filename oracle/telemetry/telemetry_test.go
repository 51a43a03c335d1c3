package telemetry

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/crank/oracle/types"
)

type TelemetryTestSuite struct {
	suite.Suite
}

func TestTelemetryTestSuite(t *testing.T) {
	suite.Run(t, new(TelemetryTestSuite))
}

func (suite *TelemetryTestSuite) TestClassName() {
	testCases := []struct {
		err  error
		want string
	}{
		{errors.New("eof"), "unknown"},
		{types.ErrEmptyQueue, "configuration"},
		{errorsmod.Wrap(types.ErrNoQuorum, "1 of 3"), "gateway"},
		{types.ErrCompile, "compile"},
		{types.NewStageError(types.StageRejected, types.ErrSimulationRejected), "simulation_rejected"},
		{types.ErrConfirmationTimeout, "submission"},
	}

	for _, tc := range testCases {
		suite.Run(tc.want, func() {
			suite.Equal(tc.want, className(tc.err))
		})
	}
}

func (suite *TelemetryTestSuite) TestInit_ServesRunMetrics() {
	h, err := Init()
	suite.Require().NoError(err)
	suite.Require().NotNil(h)

	again, err := Init()
	suite.Require().NoError(err)
	suite.Require().NotNil(again)
	suite.Equal(reflect.ValueOf(h).Pointer(), reflect.ValueOf(again).Pointer())

	start := time.Now()
	RecordRun(types.StageConfirmed, nil, start)
	RecordRun(types.StageAggregate, types.ErrNoQuorum, start)
	SetSuccessCount(5)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	suite.Equal(http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	suite.Require().NoError(err)
	suite.Contains(string(body), "crank_run_ok")
	suite.Contains(string(body), "crank_run_failed")
	suite.Contains(string(body), `class="gateway"`)
	suite.Contains(string(body), "crank_quorum_success_count")
}
