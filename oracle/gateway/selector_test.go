package gateway

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/types"
)

type SelectorTestSuite struct {
	suite.Suite
	gateways []types.Gateway
}

func TestSelectorTestSuite(t *testing.T) {
	suite.Run(t, new(SelectorTestSuite))
}

func (suite *SelectorTestSuite) SetupSuite() {
	log.InitLogger()
}

func (suite *SelectorTestSuite) SetupTest() {
	suite.gateways = []types.Gateway{
		{Endpoint: "https://a.example"},
		{Endpoint: "https://b.example"},
		{Endpoint: "https://c.example"},
	}
}

func (suite *SelectorTestSuite) endpoints(gateways []types.Gateway) []string {
	out := make([]string, len(gateways))
	for i, gw := range gateways {
		out[i] = gw.Endpoint
	}
	return out
}

func (suite *SelectorTestSuite) TestSelect() {
	testCases := []struct {
		name     string
		selector Selector
		gateways []types.Gateway
		want     []string
		wantErr  bool
	}{
		{"first", First(), nil, []string{"https://a.example"}, false},
		{"first of none", First(), []types.Gateway{}, nil, true},
		{"index", Index(2), nil, []string{"https://c.example"}, false},
		{"index out of range", Index(3), nil, nil, true},
		{"negative index", Index(-1), nil, nil, true},
		{"fan out", FanOut(2), nil, []string{"https://a.example", "https://b.example"}, false},
		{"fan out wider than queue", FanOut(10), nil, []string{"https://a.example", "https://b.example", "https://c.example"}, false},
		{"fan out zero", FanOut(0), nil, nil, true},
		{"fan out of none", FanOut(2), []types.Gateway{}, nil, true},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			gateways := tc.gateways
			if gateways == nil {
				gateways = suite.gateways
			}

			got, err := tc.selector.Select(gateways)
			if tc.wantErr {
				suite.ErrorIs(err, types.ErrConfiguration)
				return
			}
			suite.Require().NoError(err)
			suite.Equal(tc.want, suite.endpoints(got))
		})
	}
}

func (suite *SelectorTestSuite) TestNewSelector() {
	testCases := []struct {
		strategy string
		want     []string
	}{
		{"", []string{"https://a.example"}},
		{"first", []string{"https://a.example"}},
		{"index", []string{"https://b.example"}},
		{"fanout", []string{"https://a.example", "https://b.example", "https://c.example"}},
	}

	for _, tc := range testCases {
		suite.Run(tc.strategy, func() {
			s, err := NewSelector(tc.strategy, 1, 3)
			suite.Require().NoError(err)

			got, err := s.Select(suite.gateways)
			suite.Require().NoError(err)
			suite.Equal(tc.want, suite.endpoints(got))
		})
	}

	_, err := NewSelector("random", 0, 0)
	suite.ErrorContains(err, "unknown gateway strategy")
}

func (suite *SelectorTestSuite) TestSelect_DoesNotReorder() {
	got, err := FanOut(3).Select(suite.gateways)
	suite.Require().NoError(err)
	suite.Equal(suite.gateways, got)
}
