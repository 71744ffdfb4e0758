package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"hangar/rivet/internal/build"
	"hangar/rivet/internal/client"
	"hangar/rivet/internal/config"
	"hangar/rivet/internal/poller"
	"hangar/rivet/internal/publisher"
	"hangar/rivet/internal/relay"
	"hangar/rivet/internal/reporter"
	"hangar/rivet/internal/retry"
	"hangar/rivet/internal/stager"
	"hangar/rivet/internal/status"
	"hangar/rivet/internal/toolchain"
	"hangar/rivet/pkg/logger"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables (used as fallback if flags not provided):\n")
		fmt.Fprintf(os.Stderr, "  COORDINATOR_ADDR  - Coordinator server address\n")
		fmt.Fprintf(os.Stderr, "  LOG_SINK_ADDR     - Log collector websocket address\n")
		fmt.Fprintf(os.Stderr, "  WORK_DIR          - Working directory for jobs and outputs\n")
	}

	var configPath = flag.String("config", "", "Path to config file (YAML)")
	flag.Parse()

	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.Log.Level), cfg.Log.JSON)

	agentID := cfg.Agent.Name
	if agentID == "" {
		hostname, _ := os.Hostname()
		agentID = hostname
	}
	agentID = fmt.Sprintf("%s-%s", agentID, uuid.NewString()[:8])
	log.Info("starting agent", "agent_id", agentID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := relay.New(cfg.LogSink.Address,
		time.Duration(cfg.LogSink.ReconnectDelaySeconds)*time.Second, log)
	go rl.Run(ctx)

	httpClient := client.NewClient(cfg.Coordinator.Address, agentID)

	store, err := publisher.NewObjectStore(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Error("failed to create object store client")
		os.Exit(1)
	}

	buildTimeout := time.Duration(cfg.Toolchain.BuildTimeoutSeconds) * time.Second
	depTimeout := time.Duration(cfg.Toolchain.DependencyTimeoutSeconds) * time.Second

	retryCfg := retry.Config{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffSeconds) * time.Second,
	}

	p := poller.New(
		httpClient,
		stager.New(),
		build.New(toolchain.NewInvoker(depTimeout), toolchain.NewInvoker(buildTimeout), rl),
		publisher.New(store, cfg.Storage, cfg.Work.OutputsDir),
		reporter.New(httpClient, rl, cfg.Report.MaxAttempts),
		rl,
		cfg.Work.JobsDir,
		time.Duration(cfg.Coordinator.PollIntervalSeconds)*time.Second,
		retryCfg,
	)

	statusSrv := status.NewServer(p, log)
	go func() {
		if err := statusSrv.ListenAndServe(cfg.Status.ListenAddress); err != nil {
			log.WithError(err).Warn("status server stopped")
		}
	}()

	go p.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info("agent running, press Ctrl+C to stop")
	<-sigChan

	log.Info("shutting down")
	cancel()

	// Give an in-flight job's report a moment to go out.
	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			log.Warn("timeout waiting for current job to settle")
			return
		case <-ticker.C:
			if p.State().State == "idle" {
				return
			}
		}
	}
}
