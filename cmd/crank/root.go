package main

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GPTx-global/crank/oracle/config"
	"github.com/GPTx-global/crank/oracle/crank"
	"github.com/GPTx-global/crank/oracle/gateway"
	"github.com/GPTx-global/crank/oracle/ledger"
	"github.com/GPTx-global/crank/oracle/log"
)

const (
	flagHome     = "home"
	flagRPC      = "rpc"
	flagQueue    = "queue"
	flagFeed     = "feed"
	flagKeypair  = "keypair"
	flagLogLevel = "log-level"
	flagLogFile  = "log-file"
)

// NewRootCmd builds the crank command tree. Flags and CRANK_* environment
// variables override values from <home>/config.toml.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CRANK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "crank",
		Short:         "Refresh an on-demand oracle feed on Solana",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagHome, config.DefaultHome(), "directory holding config.toml and logs")
	flags.String(flagRPC, "", "Solana JSON-RPC endpoint")
	flags.String(flagQueue, "", "queue account address")
	flags.String(flagFeed, "", "feed account address")
	flags.String(flagKeypair, "", "payer keypair file")
	flags.String(flagLogLevel, "", "log level: debug, info, warn or error")
	flags.Bool(flagLogFile, false, "write logs to <home>/logs instead of the console")
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(
		runCmd(v),
		daemonCmd(v),
		configCmd(v),
	)

	return rootCmd
}

// loadConfig reads the config file and applies flag and environment overrides.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v.GetString(flagHome))
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		key    string
		target *string
	}{
		{flagRPC, &cfg.Chain.Endpoint},
		{flagQueue, &cfg.Feed.Queue},
		{flagFeed, &cfg.Feed.Address},
		{flagKeypair, &cfg.Key.Path},
		{flagLogLevel, &cfg.Log.Level},
	}
	for _, o := range overrides {
		if v.IsSet(o.key) && v.GetString(o.key) != "" {
			*o.target = v.GetString(o.key)
		}
	}
	if v.IsSet(flagLogFile) {
		cfg.Log.File = v.GetBool(flagLogFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	if cfg.Log.File {
		if _, err := log.ResetLogger(cfg.Home()); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// newCrank wires the ledger, gateway client and payer key from cfg.
func newCrank(cfg *config.Config) (*crank.Crank, *ledger.RPC, error) {
	commitment, err := cfg.Commitment()
	if err != nil {
		return nil, nil, err
	}

	key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load keypair %s: %w", cfg.KeypairPath(), err)
	}

	params, err := cfg.Params(key.PublicKey())
	if err != nil {
		return nil, nil, err
	}

	rpcClient := ledger.NewRPC(cfg.Chain.Endpoint, commitment).WithTimeout(cfg.RPCTimeout())
	gw := gateway.NewClient(cfg.GatewayTimeout())

	deps := crank.Deps{
		Ledger:   rpcClient,
		Gateways: gw,
		Signer:   key,
	}
	if cfg.Gateway.Probe {
		deps.Prober = gw
	}

	c, err := crank.New(deps, params)
	if err != nil {
		return nil, nil, err
	}

	return c, rpcClient, nil
}
