package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/crank/oracle/config"
	"github.com/GPTx-global/crank/oracle/log"
)

type CmdTestSuite struct {
	suite.Suite
	home string
}

func TestCmdTestSuite(t *testing.T) {
	suite.Run(t, new(CmdTestSuite))
}

func (suite *CmdTestSuite) SetupSuite() {
	log.InitLogger()
}

func (suite *CmdTestSuite) SetupTest() {
	suite.home = suite.T().TempDir()
}

func (suite *CmdTestSuite) execute(args ...string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(new(bytes.Buffer))
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(append(args, fmt.Sprintf("--%s=%s", flagHome, suite.home)))

	return rootCmd.Execute()
}

func (suite *CmdTestSuite) TestConfigCmd_CreatesDefault() {
	suite.Require().NoError(suite.execute("config"))
	suite.FileExists(filepath.Join(suite.home, config.FileName))
}

func (suite *CmdTestSuite) TestConfigCmd_FlagOverrides() {
	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"valid queue", []string{"--queue", solana.NewWallet().PublicKey().String()}, ""},
		{"invalid queue", []string{"--queue", "not-a-key"}, "invalid queue address"},
		{"invalid feed", []string{"--feed=xyz"}, "invalid feed address"},
		{"invalid log level", []string{"--log-level", "loud"}, "loud"},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			err := suite.execute(append([]string{"config"}, tc.args...)...)
			if tc.wantErr == "" {
				suite.NoError(err)
				return
			}
			suite.ErrorContains(err, tc.wantErr)
		})
	}
}

func (suite *CmdTestSuite) TestConfigCmd_EnvOverride() {
	suite.T().Setenv("CRANK_QUEUE", "not-a-key")

	err := suite.execute("config")
	suite.ErrorContains(err, "invalid queue address")
}

func (suite *CmdTestSuite) TestRunCmd_MissingKeypair() {
	err := suite.execute("run", "--keypair", filepath.Join(suite.home, "missing.json"))
	suite.ErrorContains(err, "failed to load keypair")
}

func (suite *CmdTestSuite) TestRunCmd_RejectsArgs() {
	suite.Error(suite.execute("run", "extra"))
}
