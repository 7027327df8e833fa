package main

import (
	"context"
	"fmt"

	"github.com/oriys/taskworker/internal/broker"
	"github.com/oriys/taskworker/internal/config"
	"github.com/oriys/taskworker/internal/example"
	"github.com/oriys/taskworker/internal/metrics"
	"github.com/oriys/taskworker/internal/notify"
	"github.com/oriys/taskworker/internal/obslog"
	"github.com/oriys/taskworker/internal/obstrace"
	"github.com/oriys/taskworker/internal/publish"
	"github.com/oriys/taskworker/internal/runner"
	"github.com/oriys/taskworker/internal/task"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// cliFlags holds the flags shared by daemon and run-once; each subcommand
// declares its own cobra.Command but funnels through loadConfig/buildRunner.
type cliFlags struct {
	brokerURL   string
	inQueue     string
	outQueue    string
	concurrency int
	healthAddr  string
	logLevel    string
	logFormat   string
}

func registerFlags(cmd *cobra.Command, flags *cliFlags) {
	cmd.Flags().StringVar(&flags.brokerURL, "broker-url", "", "AMQP broker URL (amqp://...)")
	cmd.Flags().StringVar(&flags.inQueue, "in-queue", "", "Input queue name")
	cmd.Flags().StringVar(&flags.outQueue, "out-queue", "", "Output queue name")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 5, "Max concurrent sync handler executions")
	cmd.Flags().StringVar(&flags.healthAddr, "health-addr", "127.0.0.1:8000", "Health endpoint bind address")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "text", "Log format: text or json")
}

func loadConfig(cmd *cobra.Command, flags cliFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, &config.ValidationError{Field: "config", Msg: fmt.Sprintf("load %s: %v", configFile, err)}
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	f := cmd.Flags()
	if f.Changed("broker-url") {
		cfg.AMQP.URL = flags.brokerURL
	}
	if f.Changed("in-queue") {
		cfg.AMQP.InQueue = flags.inQueue
	}
	if f.Changed("out-queue") {
		cfg.AMQP.OutQueue = flags.outQueue
	}
	if f.Changed("concurrency") {
		cfg.Worker.Concurrency = flags.concurrency
	}
	if f.Changed("health-addr") {
		cfg.Health.Host, cfg.Health.Port = splitHostPort(flags.healthAddr)
	}
	if f.Changed("log-level") {
		cfg.Observability.Logging.Level = flags.logLevel
	}
	if f.Changed("log-format") {
		cfg.Observability.Logging.Format = flags.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitHostPort(addr string) (host string, port int) {
	host, portStr := "", ""
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host, portStr = addr[:i], addr[i+1:]
			break
		}
	}
	if host == "" {
		host = "127.0.0.1"
	}
	n := 0
	fmt.Sscanf(portStr, "%d", &n)
	return host, n
}

func initObservability(cfg *config.Config) error {
	obslog.SetLevelFromString(cfg.Observability.Logging.Level)
	obslog.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	if err := obstrace.Init(context.Background(), obstrace.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}
	return nil
}

func buildInterrupter(cfg *config.Config) publish.Interrupter {
	if cfg.Redis.Addr == "" {
		return publish.NoopInterrupter{}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	return notify.NewRedisInterrupter(context.Background(), client)
}

// buildRunner wires a Runner against the example echo handler, the
// runtime's own reference handler (see internal/example): the CLI ships a
// working default so `worker daemon` runs out of the box against a queue
// that carries the demo's sleep_ms/fail body fields.
func buildRunner(cfg *config.Config, mode task.Mode) *runner.Runner {
	healthAddr := ""
	if cfg.Health.Enabled {
		healthAddr = cfg.Health.Addr()
	}

	return runner.New(runner.Config{
		Broker: broker.Config{
			URL:      cfg.AMQP.URL,
			InQueue:  cfg.AMQP.InQueue,
			OutQueue: cfg.AMQP.OutQueue,
			Prefetch: mode.EffectiveConcurrency(),
		},
		Mode:        mode,
		HealthAddr:  healthAddr,
		Interrupter: buildInterrupter(cfg),
	}, func() any { return example.SyncEchoTask{} })
}
