// Package runner owns the worker's top-level lifecycle: connect, declare,
// start the publisher/health endpoint/dispatcher, run until stopped, drain,
// and tear down — mirroring the signal-handling daemon loop shape of the
// teacher's cmd/comet/daemon.go, rebuilt around an AMQP dispatcher instead
// of a gRPC invocation API.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oriys/taskworker/internal/broker"
	"github.com/oriys/taskworker/internal/dispatch"
	"github.com/oriys/taskworker/internal/handler"
	"github.com/oriys/taskworker/internal/health"
	"github.com/oriys/taskworker/internal/obslog"
	"github.com/oriys/taskworker/internal/publish"
	"github.com/oriys/taskworker/internal/task"
)

// DefaultGraceDeadline bounds how long Drain waits for in-flight deliveries
// before giving up (spec §4.G).
const DefaultGraceDeadline = 30 * time.Second

// Config gathers everything the runner needs to bring a worker up.
type Config struct {
	Broker       broker.Config
	Mode         task.Mode
	HealthAddr   string // empty disables the health endpoint
	GraceDeadline time.Duration
	Interrupter  publish.Interrupter // nil uses publish.NoopInterrupter
}

// Runner drives one worker process end to end.
type Runner struct {
	cfg        Config
	provider   handler.Provider
	conn       *broker.Connection
	dispatcher *dispatch.Dispatcher
	health     *health.Server
	connected  atomic.Bool
	consuming  atomic.Bool
}

// New builds a Runner bound to a handler provider. Connect must be called
// before Run.
func New(cfg Config, provider handler.Provider) *Runner {
	if cfg.GraceDeadline <= 0 {
		cfg.GraceDeadline = DefaultGraceDeadline
	}
	return &Runner{cfg: cfg, provider: provider}
}

// BrokerConnected implements health.Checker.
func (r *Runner) BrokerConnected() bool { return r.connected.Load() }

// ConsumerActive implements health.Checker.
func (r *Runner) ConsumerActive() bool { return r.consuming.Load() }

// Connect dials the broker and declares queues (spec §4.G steps 1-2).
func (r *Runner) Connect() error {
	conn, err := broker.Dial(r.cfg.Broker)
	if err != nil {
		return fmt.Errorf("runner: connect: %w", err)
	}
	r.conn = conn
	r.connected.Store(true)
	return nil
}

// Start builds the publisher, dispatcher, and (if configured) health
// endpoint, in that order (spec §4.G step 3).
func (r *Runner) Start() error {
	pub := publish.New(r.conn, r.cfg.Interrupter)
	adapter := handler.New(r.provider)

	d, err := dispatch.New(r.conn, pub, adapter, r.cfg.Mode)
	if err != nil {
		return fmt.Errorf("runner: build dispatcher: %w", err)
	}
	r.dispatcher = d

	if r.cfg.HealthAddr != "" {
		r.health = health.New(r, r.dispatcher, r.cfg.HealthAddr)
		if err := r.health.Start(); err != nil {
			return fmt.Errorf("runner: start health endpoint: %w", err)
		}
		obslog.Op().Info("health endpoint listening", "addr", r.health.Addr())
	}

	return nil
}

// Run blocks until the dispatcher stops: OneShot completion, an
// unrecoverable broker error, or SIGINT/SIGTERM (spec §4.G step 4).
func (r *Runner) Run(ctx context.Context) error {
	r.consuming.Store(true)
	defer r.consuming.Store(false)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- r.dispatcher.Run(runCtx) }()

	closeErrCh := r.conn.NotifyClose()

	select {
	case err := <-runDone:
		return err
	case sig := <-sigCh:
		obslog.Op().Info("shutdown signal received", "signal", sig.String())
		r.shutdownGracefully()
		cancel()
		<-runDone
		return nil
	case amqpErr := <-closeErrCh:
		r.connected.Store(false)
		cancel()
		<-runDone
		if amqpErr != nil {
			return fmt.Errorf("runner: broker connection closed: %w", amqpErr)
		}
		return nil
	}
}

// shutdownGracefully marks the health endpoint draining and drains the
// dispatcher (spec §4.G step 5).
func (r *Runner) shutdownGracefully() {
	if r.health != nil {
		r.health.SetDraining(true)
	}
	drainCtx, drainCancel := context.WithTimeout(context.Background(), r.cfg.GraceDeadline)
	defer drainCancel()
	r.dispatcher.Drain(drainCtx, r.cfg.GraceDeadline)
}

// Teardown closes the broker connection and then the health endpoint, in
// that order (spec §4.G step 6: channels, then connection, then health
// endpoint last — so /live and /metrics stay reachable while the connection
// is going down).
func (r *Runner) Teardown(ctx context.Context) error {
	var connErr error
	if r.conn != nil {
		r.connected.Store(false)
		connErr = r.conn.Close()
	}
	if r.health != nil {
		if err := r.health.Shutdown(ctx); err != nil {
			obslog.Op().Warn("runner: health endpoint shutdown error", "error", err)
		}
	}
	return connErr
}
