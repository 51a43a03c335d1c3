package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"

	"github.com/GPTx-global/crank/oracle/crank"
	"github.com/GPTx-global/crank/oracle/gateway"
	"github.com/GPTx-global/crank/oracle/instruction"
	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/pipeline"
	"github.com/GPTx-global/crank/oracle/types"
)

const FileName = "config.toml"

// Config mirrors <home>/config.toml. It is loaded once at start and never mutated
// by the run.
type Config struct {
	home string

	Chain    ChainConfig    `toml:"chain"`
	Feed     FeedConfig     `toml:"feed"`
	Key      KeyConfig      `toml:"key"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Fee      FeeConfig      `toml:"fee"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Daemon   DaemonConfig   `toml:"daemon"`
	Log      LogConfig      `toml:"log"`
}

type ChainConfig struct {
	Endpoint   string `toml:"endpoint"`
	Commitment string `toml:"commitment"`
	RPCTimeout string `toml:"rpc_timeout"` // bounds each JSON-RPC call
}

type FeedConfig struct {
	Queue   string `toml:"queue"`
	Address string `toml:"address"`
}

type KeyConfig struct {
	Path string `toml:"path"`
}

type GatewayConfig struct {
	CrossbarURL   string `toml:"crossbar_url"`
	NumSignatures int    `toml:"num_signatures"`
	MinResponses  int    `toml:"min_responses"`
	Timeout       string `toml:"timeout"`
	Strategy      string `toml:"strategy"`
	Index         int    `toml:"index"`
	Fanout        int    `toml:"fanout"`
	Probe         bool   `toml:"probe"`
}

type FeeConfig struct {
	ComputeUnitLimit uint32 `toml:"compute_unit_limit"`
	ComputeUnitPrice uint64 `toml:"compute_unit_price"`
}

type PipelineConfig struct {
	ConfirmTimeout string `toml:"confirm_timeout"`
	PollInterval   string `toml:"poll_interval"`
}

type DaemonConfig struct {
	Interval    string `toml:"interval"`
	Listen      string `toml:"listen"`
	MaxAttempts int    `toml:"max_attempts"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  bool   `toml:"file"`
}

// Default returns the devnet configuration the crank ships with.
func Default(home string) *Config {
	return &Config{
		home: home,
		Chain: ChainConfig{
			Endpoint:   "https://api.devnet.solana.com",
			Commitment: "confirmed",
			RPCTimeout: "30s",
		},
		Feed: FeedConfig{
			Queue:   "EYiAmGSdsQTuCw413V5BzaruWuCCSDgTPtBGvLkXHbe7",
			Address: "FwzcymbxHJ7CArSmAwnguzyEBakLq2h3TZjHsz1r51rr",
		},
		Key: KeyConfig{
			Path: "~/.config/solana/id.json",
		},
		Gateway: GatewayConfig{
			NumSignatures: 6,
			MinResponses:  3,
			Timeout:       "30s",
			Strategy:      "first",
			Fanout:        1,
		},
		Fee: FeeConfig{
			ComputeUnitLimit: 1_400_000,
			ComputeUnitPrice: 69_000,
		},
		Pipeline: PipelineConfig{
			ConfirmTimeout: "60s",
			PollInterval:   "500ms",
		},
		Daemon: DaemonConfig{
			Interval:    "1m",
			Listen:      ":9464",
			MaxAttempts: 3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultHome is ~/.crank.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crank"
	}

	return filepath.Join(home, ".crank")
}

// Load reads <home>/config.toml, writing the default file first when missing.
func Load(home string) (*Config, error) {
	path := filepath.Join(home, FileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := Default(home).Write(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		log.Infof("Created default config at %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// keys missing from older files keep their defaults
	cfg := Default(home)
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log.Infof("Loaded config from %s", path)
	return cfg, nil
}

// Write stores the configuration as TOML at path.
func (c *Config) Write(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal TOML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks addresses, quorum bounds, strategy and durations.
func (c *Config) Validate() error {
	if c.Chain.Endpoint == "" {
		return fmt.Errorf("chain endpoint is required")
	}

	if _, err := c.Commitment(); err != nil {
		return err
	}

	if _, err := solana.PublicKeyFromBase58(c.Feed.Queue); err != nil {
		return fmt.Errorf("invalid queue address %q: %w", c.Feed.Queue, err)
	}

	if _, err := solana.PublicKeyFromBase58(c.Feed.Address); err != nil {
		return fmt.Errorf("invalid feed address %q: %w", c.Feed.Address, err)
	}

	if c.Key.Path == "" {
		return fmt.Errorf("keypair path is required")
	}

	if c.Gateway.NumSignatures <= 0 {
		return fmt.Errorf("num_signatures must be positive")
	}

	if c.Gateway.MinResponses <= 0 {
		return fmt.Errorf("min_responses must be positive")
	}

	if c.Gateway.MinResponses > c.Gateway.NumSignatures {
		return fmt.Errorf("min_responses %d exceeds num_signatures %d", c.Gateway.MinResponses, c.Gateway.NumSignatures)
	}

	switch c.Gateway.Strategy {
	case "first", "index", "fanout":
	default:
		return fmt.Errorf("unknown gateway strategy %q", c.Gateway.Strategy)
	}

	if c.Gateway.Strategy == "fanout" && c.Gateway.Fanout <= 0 {
		return fmt.Errorf("fanout must be positive")
	}

	if c.Gateway.Index < 0 {
		return fmt.Errorf("gateway index must not be negative")
	}

	if c.Fee.ComputeUnitLimit == 0 {
		return fmt.Errorf("compute unit limit is required")
	}

	durations := map[string]string{
		"chain.rpc_timeout":        c.Chain.RPCTimeout,
		"gateway.timeout":          c.Gateway.Timeout,
		"pipeline.confirm_timeout": c.Pipeline.ConfirmTimeout,
		"pipeline.poll_interval":   c.Pipeline.PollInterval,
		"daemon.interval":          c.Daemon.Interval,
	}
	for key, value := range durations {
		d, err := cast.ToDurationE(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	return nil
}

// Print logs the effective configuration.
func (c *Config) Print() {
	log.Infof("%-16s: %s", "Home", c.Home())
	log.Infof("%-16s: %s", "RPC Endpoint", c.Chain.Endpoint)
	log.Infof("%-16s: %s", "Commitment", c.Chain.Commitment)
	log.Infof("%-16s: %s", "RPC Timeout", c.Chain.RPCTimeout)
	log.Infof("%-16s: %s", "Queue", c.Feed.Queue)
	log.Infof("%-16s: %s", "Feed", c.Feed.Address)
	log.Infof("%-16s: %s", "Keypair", c.Key.Path)
	log.Infof("%-16s: %s", "Crossbar", c.Gateway.CrossbarURL)
	log.Infof("%-16s: %d/%d", "Quorum", c.Gateway.MinResponses, c.Gateway.NumSignatures)
	log.Infof("%-16s: %s", "Strategy", c.Gateway.Strategy)
	log.Infof("%-16s: %s", "Gateway Timeout", c.Gateway.Timeout)
	log.Infof("%-16s: %d", "CU Limit", c.Fee.ComputeUnitLimit)
	log.Infof("%-16s: %d", "CU Price", c.Fee.ComputeUnitPrice)
}

func (c *Config) Home() string {
	return c.home
}

// QueueAddress is the zero key when the configured address does not parse.
func (c *Config) QueueAddress() solana.PublicKey {
	key, _ := solana.PublicKeyFromBase58(c.Feed.Queue)
	return key
}

func (c *Config) FeedAddress() solana.PublicKey {
	key, _ := solana.PublicKeyFromBase58(c.Feed.Address)
	return key
}

// KeypairPath expands a leading ~ to the user's home directory.
func (c *Config) KeypairPath() string {
	path := c.Key.Path
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return path
}

func (c *Config) Commitment() (rpc.CommitmentType, error) {
	switch c.Chain.Commitment {
	case "processed":
		return rpc.CommitmentProcessed, nil
	case "confirmed":
		return rpc.CommitmentConfirmed, nil
	case "finalized":
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("unknown commitment level %q", c.Chain.Commitment)
	}
}

// RPCTimeout bounds each JSON-RPC call.
func (c *Config) RPCTimeout() time.Duration {
	return cast.ToDuration(c.Chain.RPCTimeout)
}

func (c *Config) GatewayTimeout() time.Duration {
	return cast.ToDuration(c.Gateway.Timeout)
}

func (c *Config) ConfirmTimeout() time.Duration {
	return cast.ToDuration(c.Pipeline.ConfirmTimeout)
}

func (c *Config) PollInterval() time.Duration {
	return cast.ToDuration(c.Pipeline.PollInterval)
}

func (c *Config) DaemonInterval() time.Duration {
	return cast.ToDuration(c.Daemon.Interval)
}

// Params turns the file into the explicit parameters of a run paid by payer.
func (c *Config) Params(payer solana.PublicKey) (crank.Params, error) {
	commitment, err := c.Commitment()
	if err != nil {
		return crank.Params{}, err
	}

	selector, err := gateway.NewSelector(c.Gateway.Strategy, c.Gateway.Index, c.Gateway.Fanout)
	if err != nil {
		return crank.Params{}, err
	}

	var resolver gateway.Resolver
	if c.Gateway.CrossbarURL != "" {
		resolver = gateway.NewCrossbarClient(c.Gateway.CrossbarURL)
	}

	return crank.Params{
		Queue:           c.QueueAddress(),
		Feed:            types.Feed{Address: c.FeedAddress()},
		Payer:           payer,
		Selector:        selector,
		Resolver:        resolver,
		NumSignatures:   c.Gateway.NumSignatures,
		QuorumThreshold: c.Gateway.MinResponses,
		Fees: instruction.Builder{
			ComputeUnitLimit: c.Fee.ComputeUnitLimit,
			ComputeUnitPrice: c.Fee.ComputeUnitPrice,
		},
		Pipeline: pipeline.Options{
			Commitment:     commitment,
			ConfirmTimeout: c.ConfirmTimeout(),
			PollInterval:   c.PollInterval(),
		},
	}, nil
}
