// Package health runs component checks for the server's /health/* routes.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/quartz"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// DefaultTimeout applies to components registered without a timeout.
const DefaultTimeout = 5 * time.Second

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

type Check func(ctx context.Context) CheckResult

// Component is a named check. An unhealthy critical component makes the
// whole server unhealthy; an unhealthy optional one only degrades it.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

type entry struct {
	comp *Component
	last CheckResult
}

// Checker holds the registered components and their latest results.
type Checker struct {
	clock   quartz.Clock
	started time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	ready   bool
}

// NewChecker returns an empty Checker. A nil clock means the real clock.
func NewChecker(clock quartz.Clock) *Checker {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Checker{
		clock:   clock,
		started: clock.Now(),
		entries: make(map[string]*entry),
	}
}

// Register adds or replaces a component. Its status is unknown until the
// first check.
func (c *Checker) Register(comp *Component) {
	if comp.Timeout <= 0 {
		comp.Timeout = DefaultTimeout
	}
	c.mu.Lock()
	c.entries[comp.Name] = &entry{comp: comp, last: CheckResult{Status: StatusUnknown}}
	c.mu.Unlock()
}

func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// SetReady flips the readiness flag reported by ReadinessHandler.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Components returns the registered names, sorted.
func (c *Checker) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Check runs every component in parallel and returns the fresh results.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	comps := make([]*Component, 0, len(c.entries))
	for _, e := range c.entries {
		comps = append(comps, e.comp)
	}
	c.mu.RUnlock()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make(map[string]CheckResult, len(comps))
	)
	for _, comp := range comps {
		wg.Go(func() {
			res := c.run(ctx, comp)
			mu.Lock()
			out[comp.Name] = res
			mu.Unlock()
		})
	}
	wg.Wait()
	return out
}

// CheckComponent runs one component. ok is false for an unknown name.
func (c *Checker) CheckComponent(ctx context.Context, name string) (res CheckResult, ok bool) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return CheckResult{}, false
	}
	return c.run(ctx, e.comp), true
}

func (c *Checker) run(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := c.clock.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(p)}
			}
		}()
		done <- comp.Check(ctx)
	}()

	var res CheckResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	res.LastChecked = start
	res.Duration = c.clock.Since(start)

	c.mu.Lock()
	if e, ok := c.entries[comp.Name]; ok && e.comp == comp {
		e.last = res
	}
	c.mu.Unlock()
	return res
}

// OverallStatus folds the latest results. A critical unhealthy component
// wins; an unchecked critical one makes the total unknown.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusHealthy
	for _, e := range c.entries {
		switch e.last.Status {
		case StatusUnhealthy:
			if e.comp.Critical {
				return StatusUnhealthy
			}
			if status == StatusHealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		case StatusUnknown:
			if e.comp.Critical {
				status = StatusUnknown
			}
		}
	}
	return status
}

// Response is the body of /health/components.
type Response struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

func (c *Checker) Report(ctx context.Context) Response {
	results := c.Check(ctx)
	return Response{
		Status:     c.OverallStatus(),
		Ready:      c.IsReady(),
		Uptime:     c.clock.Since(c.started).Round(time.Second).String(),
		Components: results,
		Timestamp:  c.clock.Now().UTC(),
	}
}

// ReadinessHandler answers 503 before SetReady(true) and whenever a
// critical component fails.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
			return
		}
		c.Check(r.Context())
		status := c.OverallStatus()
		writeJSON(w, statusCode(status), map[string]any{"status": status, "ready": true})
	})
}

// Handler serves the full Response.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := c.Report(r.Context())
		writeJSON(w, statusCode(resp.Status), resp)
	})
}

func statusCode(s Status) int {
	if s == StatusHealthy || s == StatusDegraded {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// DatabaseCheck wraps a ping function.
func DatabaseCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "ping failed", Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy, Message: "ping ok"}
	}
}
