package health

import (
	"context"
	"sync"
	"time"

	"github.com/GPTx-global/crank/oracle/log"
)

type Check interface {
	Check(ctx context.Context) error
	Name() string
}

// Status is the last result of one check.
type Status struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Checker runs its checks on an interval and keeps the latest results.
type Checker struct {
	mutex    sync.RWMutex
	checks   map[string]Check
	status   map[string]Status
	interval time.Duration
}

// NewChecker runs checks every interval once started.
func NewChecker(interval time.Duration) *Checker {
	return &Checker{
		checks:   make(map[string]Check),
		status:   make(map[string]Status),
		interval: interval,
	}
}

// AddCheck registers a check. It counts as unhealthy until it first passes.
func (c *Checker) AddCheck(check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	name := check.Name()
	c.checks[name] = check
	c.status[name] = Status{}

	log.Debugf("added health check: %s", name)
}

// Start runs the checks immediately and then on every tick until ctx ends.
func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			c.RunChecks(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunChecks runs every check concurrently and waits for all of them.
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mutex.RUnlock()

	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()

			err := check.Check(ctx)

			status := Status{Healthy: err == nil, LastCheck: time.Now()}
			if err != nil {
				status.LastError = err.Error()
				log.Warnf("health check %s failed: %v", name, err)
			}

			c.mutex.Lock()
			c.status[name] = status
			c.mutex.Unlock()
		}(name, check)
	}
	wg.Wait()
}

func (c *Checker) Status() map[string]Status {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]Status, len(c.status))
	for name, status := range c.status {
		result[name] = status
	}

	return result
}

func (c *Checker) IsHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, status := range c.status {
		if !status.Healthy {
			return false
		}
	}

	return true
}

// FuncCheck adapts a named function to Check.
type FuncCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func NewFuncCheck(name string, fn func(ctx context.Context) error) *FuncCheck {
	return &FuncCheck{name: name, fn: fn}
}

func (f *FuncCheck) Check(ctx context.Context) error {
	return f.fn(ctx)
}

func (f *FuncCheck) Name() string {
	return f.name
}
