package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/piston-go/internal/config"
	"github.com/michaelbrown/piston-go/internal/logging"
	"github.com/michaelbrown/piston-go/internal/observability"
	"github.com/michaelbrown/piston-go/internal/sandbox"
	"github.com/michaelbrown/piston-go/internal/storage"
	"github.com/michaelbrown/piston-go/internal/storage/sqlite"
	"github.com/michaelbrown/piston-go/piston"
)

// Set by setup before any subcommand runs.
var (
	cfg    *config.Config
	logger = zap.NewNop()
)

func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if urlFlag != "" {
		c.BaseURL = urlFlag
	}
	if logLevelFlag != "" {
		c.Log.Level = logLevelFlag
	}
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	for _, h := range headerFlags {
		key, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q: want Key: Value", h)
		}
		c.Headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	l, _, err := logging.New(c.Log.Level)
	if err != nil {
		return err
	}

	cfg, logger = c, l
	return nil
}

func syncLogger() {
	_ = logger.Sync()
}

// newClient builds a client for the configured service. obs may be nil.
func newClient(obs *observability.Observability) *piston.Client {
	var transport piston.Transport = &http.Client{Timeout: cfg.HTTPTimeout}
	transport = obs.WrapTransport(transport)

	return piston.New(cfg.BaseURL,
		piston.WithTransport(transport),
		piston.WithHeaders(cfg.Headers),
		piston.WithLogger(logger),
	)
}

// openStore opens the history database, or returns nil when history is off.
func openStore() (storage.Store, error) {
	if noHistory {
		return nil, nil
	}
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return store, nil
}

// runner applies the configured policy to requests and records every
// execution it performs.
type runner struct {
	client  *piston.Client
	sandbox *sandbox.RemoteSandbox
	store   storage.Store
	obs     *observability.Observability
	source  string
}

func newRunner(source string) (*runner, error) {
	tracer, err := observability.NewTracerSetup(&cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	obs := &observability.Observability{Tracer: tracer}

	store, err := openStore()
	if err != nil {
		return nil, err
	}

	client := newClient(obs)
	return &runner{
		client:  client,
		sandbox: sandbox.NewRemoteSandbox(client, sandbox.PolicyFromConfig(cfg)),
		store:   store,
		obs:     obs,
		source:  source,
	}, nil
}

func (r *runner) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.obs.Shutdown(ctx); err != nil {
		logger.Warn("flushing traces failed", zap.Error(err))
	}
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// execute runs req and returns the full response. The run is recorded
// whether or not it succeeds.
func (r *runner) execute(ctx context.Context, in piston.ExecuteRequest) (*piston.ExecuteResponse, *storage.Run, error) {
	req, err := r.sandbox.Request(sandbox.OptsFromRequest(in))
	if err != nil {
		return nil, nil, err
	}

	started := time.Now()
	resp, execErr := r.client.Execute(ctx, req)

	var run *storage.Run
	if r.store != nil {
		run, err = storage.NewRun(r.source, req, resp, execErr, started)
		if err == nil {
			err = r.store.Record(context.WithoutCancel(ctx), run)
		}
		if err != nil {
			logger.Warn("recording run failed", zap.Error(err))
			run = nil
		}
	}
	return resp, run, execErr
}
