package aggregator

import (
	"math/rand"
	"os"
	"testing"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/crank/oracle/gateway"
	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/types"
)

type AggregatorTestSuite struct {
	suite.Suite
}

func TestAggregatorTestSuite(t *testing.T) {
	suite.Run(t, new(AggregatorTestSuite))
}

func (suite *AggregatorTestSuite) SetupSuite() {
	log.InitLogger()
}

func responses(ok, failed int) []types.OracleResponse {
	out := make([]types.OracleResponse, 0, ok+failed)
	for i := 0; i < ok; i++ {
		out = append(out, types.OracleResponse{Oracle: solana.NewWallet().PublicKey(), Value: math.NewInt(int64(100 + i))})
	}
	for i := 0; i < failed; i++ {
		out = append(out, types.OracleResponse{Oracle: solana.NewWallet().PublicKey(), Error: "timeout"})
	}
	return out
}

func reply(endpoint string, rs []types.OracleResponse) gateway.Reply {
	return gateway.Reply{
		Gateway:     types.Gateway{Endpoint: endpoint},
		Instruction: &types.UpdateInstruction{Payload: []byte(endpoint)},
		Responses:   rs,
	}
}

func (suite *AggregatorTestSuite) TestSuccessCount_IgnoresOrder() {
	rs := responses(4, 3)
	want := SuccessCount(rs)
	suite.Equal(4, want)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]types.OracleResponse(nil), rs...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		suite.Equal(want, SuccessCount(shuffled))
	}

	suite.Equal(0, SuccessCount(nil))
}

func (suite *AggregatorTestSuite) TestSuccessCount_ZeroIsAValue() {
	rs := []types.OracleResponse{{Value: math.ZeroInt()}, {Error: "stale"}}
	suite.Equal(1, SuccessCount(rs))
}

func (suite *AggregatorTestSuite) TestDedupe() {
	rs := responses(3, 1)
	dup := rs[1]
	dup.Value = math.NewInt(999)

	out := Dedupe(append(rs, dup, rs[0]))
	suite.Equal(rs, out)
	suite.Equal("101", out[1].Value.String())
}

func (suite *AggregatorTestSuite) TestAggregate() {
	testCases := []struct {
		name      string
		replies   []gateway.Reply
		threshold int
		want      string
		count     int
		err       error
	}{
		{
			name:      "single reply",
			replies:   []gateway.Reply{reply("a", responses(5, 1))},
			threshold: 3,
			want:      "a",
			count:     5,
		},
		{
			name:      "exactly threshold",
			replies:   []gateway.Reply{reply("a", responses(3, 3))},
			threshold: 3,
			want:      "a",
			count:     3,
		},
		{
			name:      "best reply wins",
			replies:   []gateway.Reply{reply("a", responses(2, 4)), reply("b", responses(5, 1)), reply("c", responses(4, 0))},
			threshold: 3,
			want:      "b",
			count:     5,
		},
		{
			name:      "tie keeps order",
			replies:   []gateway.Reply{reply("a", responses(4, 0)), reply("b", responses(4, 2))},
			threshold: 1,
			want:      "a",
			count:     4,
		},
		{
			name:      "below threshold",
			replies:   []gateway.Reply{reply("a", responses(2, 4)), reply("b", responses(1, 0))},
			threshold: 3,
			err:       types.ErrNoQuorum,
		},
		{
			name:      "all failed",
			replies:   []gateway.Reply{reply("a", responses(0, 6))},
			threshold: 1,
			err:       types.ErrNoQuorum,
		},
		{
			name:      "no replies",
			threshold: 1,
			err:       types.ErrNoQuorum,
		},
		{
			name:      "zero threshold",
			replies:   []gateway.Reply{reply("a", responses(1, 0))},
			threshold: 0,
			err:       types.ErrConfiguration,
		},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			sel, err := Aggregate(tc.replies, tc.threshold)
			if tc.err != nil {
				suite.ErrorIs(err, tc.err)
				suite.Nil(sel)
				return
			}

			suite.Require().NoError(err)
			suite.Equal(tc.want, sel.Gateway)
			suite.Equal(tc.count, sel.SuccessCount)
			suite.Equal([]byte(tc.want), sel.Instruction.Payload)
			suite.GreaterOrEqual(sel.SuccessCount, tc.threshold)
		})
	}
}

func (suite *AggregatorTestSuite) TestAggregate_DuplicatesDoNotCount() {
	rs := responses(2, 0)
	rs = append(rs, rs[0], rs[1], rs[0])

	_, err := Aggregate([]gateway.Reply{reply("a", rs)}, 3)
	suite.ErrorIs(err, types.ErrNoQuorum)

	sel, err := Aggregate([]gateway.Reply{reply("a", rs)}, 2)
	suite.Require().NoError(err)
	suite.Len(sel.Responses, 2)
}

func (suite *AggregatorTestSuite) TestAggregate_LogsDroppedDuplicates() {
	path, err := log.ResetLogger(suite.T().TempDir())
	suite.Require().NoError(err)
	suite.Require().NoError(log.SetLevel("debug"))
	defer func() {
		_ = log.SetLevel("info")
		log.InitLogger()
	}()

	rs := responses(3, 0)
	rs = append(rs, rs[2], rs[0])

	sel, err := Aggregate([]gateway.Reply{reply("https://gw.example", rs), reply("clean", responses(1, 0))}, 2)
	suite.Require().NoError(err)
	suite.Equal(3, sel.SuccessCount)
	suite.Equal(rs[:3], sel.Responses)
	log.Sync()

	data, err := os.ReadFile(path)
	suite.Require().NoError(err)
	suite.Contains(string(data), "gateway https://gw.example: dropped 2 duplicate responses, counting 3 of 5")
	suite.NotContains(string(data), "gateway clean:")
}

func (suite *AggregatorTestSuite) TestAggregate_NoQuorumIsRetryable() {
	_, err := Aggregate([]gateway.Reply{reply("a", responses(1, 5))}, 3)
	suite.True(types.Retryable(err))
	suite.ErrorContains(err, "1 of 3 required responses from a")
}
