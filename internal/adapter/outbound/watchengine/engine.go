// Package watchengine implements the File-Access Watch-Item Engine (§4.6):
// it loads a watch-item configuration document, compiles it into a
// generation of lookup indices, and periodically reloads the configuration
// source on a timer, swapping in a new generation only when it parses
// cleanly (§4.6.5).
package watchengine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/santa-policy/core/internal/domain/watchitem"
	"github.com/santa-policy/core/internal/telemetry"
)

// Logger is the minimal structured-logging surface the engine needs,
// satisfied by logging.Sugar in production wiring.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Engine is the concrete, file-backed implementation of watchitem.Engine.
// The zero value is not usable; construct with New.
type Engine struct {
	configPath string
	logger     Logger

	mu  sync.RWMutex
	gen generation

	obsMu     sync.Mutex
	dataObs   []watchitem.DataObserver
	procObs   []watchitem.ProcessObserver

	reloadInterval time.Duration
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

var _ watchitem.Engine = (*Engine)(nil)

// New constructs an Engine and performs its initial Build from configPath.
// A missing or empty config file is not an error: the engine starts with an
// empty generation (no paths watched) and will pick up the file once it
// exists, consistent with Santa tolerating a not-yet-synced configuration.
func New(configPath string, reloadInterval time.Duration, logger Logger) (*Engine, error) {
	e := &Engine{
		configPath:     configPath,
		logger:         logger,
		reloadInterval: watchitem.ClampReloadInterval(reloadInterval),
	}
	if err := e.reload(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// FindPoliciesForPaths implements watchitem.Engine.
func (e *Engine) FindPoliciesForPaths(paths []string) []watchitem.PathLookupResult {
	_, span := telemetry.Tracer().Start(context.Background(), "watchengine.FindPoliciesForPaths")
	defer span.End()

	e.mu.RLock()
	gen := e.gen
	e.mu.RUnlock()

	out := make([]watchitem.PathLookupResult, len(paths))
	for i, p := range paths {
		result := watchitem.PathLookupResult{Version: gen.version}
		if policy, ok := gen.dataTree.Lookup(p); ok {
			cp := *policy
			result.Policy = &cp
		}
		out[i] = result
	}
	return out
}

// IterateProcessPolicies implements watchitem.Engine.
func (e *Engine) IterateProcessPolicies(fn func(watchitem.ProcessWatchItemPolicy) (stop bool)) {
	e.mu.RLock()
	policies := e.gen.processPolicy
	e.mu.RUnlock()

	for _, p := range policies {
		if fn(p) {
			return
		}
	}
}

// State implements watchitem.Engine.
func (e *Engine) State() watchitem.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return watchitem.EngineState{
		RuleCount:     e.gen.ruleCount,
		Version:       e.gen.version,
		ConfigPath:    e.gen.configPath,
		LastLoadEpoch: e.gen.loadEpoch,
	}
}

// RegisterDataObserver implements watchitem.Engine.
func (e *Engine) RegisterDataObserver(o watchitem.DataObserver) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.dataObs = append(e.dataObs, o)
}

// RegisterProcessObserver implements watchitem.Engine.
func (e *Engine) RegisterProcessObserver(o watchitem.ProcessObserver) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.procObs = append(e.procObs, o)
}

// Reload implements watchitem.Engine: re-reads configPath and, on success,
// atomically swaps in the new generation and notifies observers. A parse
// error is returned to the caller; the active generation is untouched.
func (e *Engine) Reload(ctx context.Context) error {
	return e.reload(ctx)
}

func (e *Engine) reload(ctx context.Context) error {
	raw, err := readConfig(e.configPath)
	if err != nil {
		return fmt.Errorf("watchengine: read config: %w", err)
	}

	parsed, parseErrs := parseConfig(raw)
	for _, perr := range parseErrs {
		if e.logger != nil {
			e.logger.Warnw("watch item rule dropped", "error", perr.Error())
		}
	}

	next, warnings := build(parsed, e.configPath, time.Now().Unix(), filesystemGlobExpander)
	if e.logger != nil {
		for _, w := range warnings {
			e.logger.Warnw("watch item config warning", "warning", w)
		}
	}

	e.mu.Lock()
	prev := e.gen
	e.gen = next
	e.mu.Unlock()

	delta := diff(prev, next)
	if len(delta.AddedPaths) > 0 || len(delta.RemovedPaths) > 0 {
		e.obsMu.Lock()
		observers := append([]watchitem.DataObserver(nil), e.dataObs...)
		e.obsMu.Unlock()
		for _, o := range observers {
			o.OnDataPathsChanged(delta)
		}
	}

	e.obsMu.Lock()
	procObservers := append([]watchitem.ProcessObserver(nil), e.procObs...)
	e.obsMu.Unlock()
	for _, o := range procObservers {
		o.OnProcessPoliciesChanged(append([]watchitem.ProcessWatchItemPolicy(nil), next.processPolicy...))
	}

	if e.logger != nil {
		e.logger.Infow("watch item configuration reloaded",
			"path", e.configPath, "rule_count", next.ruleCount, "version", next.version, "generation_id", next.id)
	}
	return nil
}

// readConfig loads and decodes the YAML document at path. A missing file is
// treated as an empty configuration rather than an error.
func readConfig(path string) (rawConfig, error) {
	if path == "" {
		return rawConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rawConfig{}, nil
		}
		return rawConfig{}, err
	}
	var cfg rawConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return rawConfig{}, fmt.Errorf("parse watch item config: %w", err)
	}
	return cfg, nil
}

// StartReloadLoop launches the periodic-reload goroutine of §4.6.5. Stop
// cancels ctx or calls the returned stop function to end it; either way
// StartReloadLoop's internal goroutine is guaranteed to have exited once
// stop returns (tracked via sync.WaitGroup for leak-checked tests).
func (e *Engine) StartReloadLoop(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.reloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.reload(ctx); err != nil && e.logger != nil {
					e.logger.Errorw("watch item reload failed", "error", err.Error())
				}
			}
		}
	}()
	return func() {
		cancel()
		e.wg.Wait()
	}
}
