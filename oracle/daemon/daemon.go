package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/mux"

	"github.com/GPTx-global/crank/oracle/health"
	"github.com/GPTx-global/crank/oracle/ledger"
	"github.com/GPTx-global/crank/oracle/log"
	"github.com/GPTx-global/crank/oracle/retry"
	"github.com/GPTx-global/crank/oracle/types"
)

// Runner performs one crank attempt. *crank.Crank satisfies it.
type Runner interface {
	Run(ctx context.Context) (*types.PipelineOutcome, error)
	Gateways(ctx context.Context) ([]types.Gateway, error)
}

// Chain is what the daemon reads to check health and settle ambiguous runs.
type Chain interface {
	GetLatestBlockhash(ctx context.Context) (ledger.Blockhash, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*ledger.SignatureStatus, error)
}

type Options struct {
	Interval        time.Duration
	Listen          string // empty disables the HTTP server
	Commitment      rpc.CommitmentType
	Retry           *retry.Config
	BreakerFailures int
	BreakerReset    time.Duration
	HealthInterval  time.Duration
	Metrics         http.Handler // optional /metrics handler
}

// Daemon cranks the feed on an interval and serves health and metrics.
type Daemon struct {
	runner  Runner
	chain   Chain
	opts    Options
	checker *health.Checker
	breaker *retry.CircuitBreaker
	router  *mux.Router

	mu   sync.RWMutex
	last *types.PipelineOutcome
}

// New fills unset options with defaults and registers the rpc and queue
// health checks.
func New(runner Runner, chain Chain, opts Options) *Daemon {
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = 5 * opts.Interval
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 30 * time.Second
	}

	d := &Daemon{
		runner:  runner,
		chain:   chain,
		opts:    opts,
		checker: health.NewChecker(opts.HealthInterval),
		breaker: retry.NewCircuitBreaker(opts.BreakerFailures, opts.BreakerReset),
	}

	d.checker.AddCheck(health.NewFuncCheck("rpc", func(ctx context.Context) error {
		_, err := chain.GetLatestBlockhash(ctx)
		return err
	}))
	d.checker.AddCheck(health.NewFuncCheck("queue", func(ctx context.Context) error {
		_, err := runner.Gateways(ctx)
		return err
	}))

	d.router = mux.NewRouter()
	d.router.HandleFunc("/health", d.handleHealth).Methods(http.MethodGet)
	d.router.HandleFunc("/status", d.handleStatus).Methods(http.MethodGet)
	if opts.Metrics != nil {
		d.router.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	return d
}

// Handler serves /health, /status and, when configured, /metrics.
func (d *Daemon) Handler() http.Handler {
	return d.router
}

func (d *Daemon) Checker() *health.Checker {
	return d.checker
}

// Start cranks immediately and then on every interval until ctx ends.
func (d *Daemon) Start(ctx context.Context) error {
	if d.opts.Interval <= 0 {
		return fmt.Errorf("daemon interval must be positive")
	}

	var server *http.Server
	if d.opts.Listen != "" {
		server = &http.Server{
			Addr:              d.opts.Listen,
			Handler:           d.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("serving health and metrics on %s", d.opts.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("http server: %v", err)
			}
		}()
	}

	go d.checker.Start(ctx)

	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	d.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}
			return nil
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one crank with retries behind the circuit breaker.
func (d *Daemon) Tick(ctx context.Context) error {
	err := d.breaker.Execute(func() error {
		return retry.Do(ctx, d.opts.Retry, d.attempt, retryable)
	})

	switch {
	case errors.Is(err, retry.ErrCircuitOpen):
		log.Infof("circuit open, skipping crank")
	case err != nil:
		log.Errorf("crank failed: %v", err)
	}

	return err
}

func (d *Daemon) attempt(ctx context.Context, n int) error {
	outcome, err := d.runner.Run(ctx)
	d.record(outcome)

	if err == nil || !types.Ambiguous(err) {
		return err
	}

	landed, checkErr := d.landed(ctx, outcome)
	if checkErr != nil {
		log.Errorf("failed to re-check %s: %v", outcome.Signature, checkErr)
		return fmt.Errorf("%w: %v: %w", errUnsettled, checkErr, err)
	}
	if landed {
		log.Infof("attempt %d: %s landed despite %v", n, outcome.Signature, err)
		return nil
	}

	return err
}

// landed reports whether the run's transaction reached the commitment level
// without an execution error.
func (d *Daemon) landed(ctx context.Context, outcome *types.PipelineOutcome) (bool, error) {
	if outcome == nil || outcome.Signature.IsZero() {
		return false, nil
	}

	status, err := d.chain.GetSignatureStatus(ctx, outcome.Signature)
	if err != nil {
		return false, err
	}

	return status != nil && status.Err == nil && ledger.Reached(status.ConfirmationStatus, d.opts.Commitment), nil
}

// errUnsettled marks an ambiguous run whose signature status could not be read.
var errUnsettled = errors.New("transaction state unknown")

// retryable rebuilds after ambiguous submissions that were re-checked and
// did not land. A confirmation timeout or a failed re-check is left for the
// next tick since the transaction may still land.
func retryable(err error) bool {
	if errors.Is(err, types.ErrConfirmationTimeout) || errors.Is(err, errUnsettled) {
		return false
	}
	if types.Ambiguous(err) {
		return true
	}
	return retry.IsRetryable(err)
}

func (d *Daemon) record(outcome *types.PipelineOutcome) {
	if outcome == nil {
		return
	}

	d.mu.Lock()
	d.last = outcome
	d.mu.Unlock()
}

// Last returns the outcome of the most recent attempt.
func (d *Daemon) Last() *types.PipelineOutcome {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.last
}

type healthResponse struct {
	Healthy bool                     `json:"healthy"`
	Breaker string                   `json:"breaker"`
	Checks  map[string]health.Status `json:"checks"`
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{
		Healthy: d.checker.IsHealthy(),
		Breaker: d.breaker.State().String(),
		Checks:  d.checker.Status(),
	}

	code := http.StatusOK
	if !res.Healthy {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, res)
}

type statusResponse struct {
	RunID        string   `json:"run_id"`
	Stage        string   `json:"stage"`
	Signature    string   `json:"signature,omitempty"`
	SuccessCount int      `json:"success_count"`
	Error        string   `json:"error,omitempty"`
	Logs         []string `json:"logs,omitempty"`
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	last := d.Last()
	if last == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "no run yet"})
		return
	}

	res := statusResponse{
		RunID:        last.RunID,
		Stage:        last.Stage.String(),
		SuccessCount: last.SuccessCount,
		Logs:         last.Logs,
	}
	if !last.Signature.IsZero() {
		res.Signature = last.Signature.String()
	}
	if last.Err != nil {
		res.Error = last.Err.Error()
	}

	respondJSON(w, http.StatusOK, res)
}

func respondJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}
