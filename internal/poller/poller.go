// Package poller runs the agent's control loop: poll the coordinator on a
// fixed interval and drive each received job through staging, build,
// publication, and reporting. Jobs run strictly one at a time because the
// signing import mutates agent-global keychain state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hangar/rivet/internal/client"
	"hangar/rivet/internal/publisher"
	"hangar/rivet/internal/relay"
	"hangar/rivet/internal/retry"
)

// JobSource supplies jobs from the coordinator.
type JobSource interface {
	NextJob(ctx context.Context) (*client.Job, error)
}

// SourceStager stages a job's source archive.
type SourceStager interface {
	Download(ctx context.Context, url, dest string) error
	Extract(archivePath, destDir string) error
	ResolveProjectRoot(rootDir string) (string, error)
}

// Builder installs dependencies and runs the selected build variant.
type Builder interface {
	InstallDependencies(ctx context.Context, jobID, projectRoot string) error
	Run(ctx context.Context, jobID, mode, projectRoot string) (string, error)
}

// ArtifactPublisher uploads the build product and returns its public URL.
type ArtifactPublisher interface {
	Publish(ctx context.Context, jobID, artifactPath string) (string, error)
}

// ResultReporter delivers the terminal job result.
type ResultReporter interface {
	Report(ctx context.Context, res client.Result, webhookURL string)
}

// State describes what the agent is currently doing.
type State struct {
	State     string     `json:"state"` // idle or building
	JobID     string     `json:"job_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Poller is the top-level job loop.
type Poller struct {
	source    JobSource
	stager    SourceStager
	builder   Builder
	publisher ArtifactPublisher
	reporter  ResultReporter
	relay     *relay.Relay

	jobsDir  string
	interval time.Duration
	retryCfg retry.Config

	mu    sync.Mutex
	state State
}

// New wires the pipeline components into a poller.
func New(source JobSource, stager SourceStager, builder Builder, pub ArtifactPublisher,
	rep ResultReporter, rl *relay.Relay, jobsDir string, interval time.Duration, retryCfg retry.Config) *Poller {
	return &Poller{
		source:    source,
		stager:    stager,
		builder:   builder,
		publisher: pub,
		reporter:  rep,
		relay:     rl,
		jobsDir:   jobsDir,
		interval:  interval,
		retryCfg:  retryCfg,
		state:     State{State: "idle"},
	}
}

// State returns a snapshot of the poller's current activity.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run polls until ctx is cancelled. A received job completes its full
// pipeline before the loop returns to the ticker, so the next tick can
// never start a second concurrent job. Poll errors are logged and treated
// as "no job this tick"; the loop itself never terminates on them.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	job, err := p.source.NextJob(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.relay.Log("", "poll failed: %v", err)
		}
		return
	}
	if job == nil {
		return
	}

	p.ProcessJob(ctx, job)
}

// ProcessJob drives one job from staging to a reported terminal result.
// Every job reaches exactly one terminal state here; job-level errors are
// reported as failed results and never escape.
func (p *Poller) ProcessJob(ctx context.Context, job *client.Job) {
	now := time.Now()
	p.setState(State{State: "building", JobID: job.ID, StartedAt: &now})
	defer p.setState(State{State: "idle"})

	p.relay.Log(job.ID, "job received (mode %s)", job.BuildMode)

	outputURL, err := p.runPipeline(ctx, job)

	res := client.Result{JobID: job.ID}
	if err != nil {
		p.relay.Log(job.ID, "job failed: %v", err)
		res.Status = client.StatusFailed
		res.Error = err.Error()
	} else {
		p.relay.Log(job.ID, "job succeeded: %s", outputURL)
		res.Status = client.StatusSuccess
		res.OutputURL = outputURL
	}

	p.reporter.Report(ctx, res, job.WebhookURL)
}

func (p *Poller) runPipeline(ctx context.Context, job *client.Job) (string, error) {
	workspace := filepath.Join(p.jobsDir, job.ID)

	// A workspace never survives across two jobs sharing an identifier.
	if err := os.RemoveAll(workspace); err != nil {
		return "", fmt.Errorf("reset workspace: %w", err)
	}
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	archivePath := filepath.Join(workspace, "source.zip")
	p.relay.Log(job.ID, "downloading source archive")
	err := retry.Do(ctx, p.retryCfg, "download source", func(ctx context.Context) error {
		return p.stager.Download(ctx, job.ZipURL, archivePath)
	})
	if err != nil {
		return "", err
	}

	srcDir := filepath.Join(workspace, "src")
	p.relay.Log(job.ID, "extracting source archive")
	if err := p.stager.Extract(archivePath, srcDir); err != nil {
		return "", err
	}

	projectRoot, err := p.stager.ResolveProjectRoot(srcDir)
	if err != nil {
		return "", err
	}

	err = retry.Do(ctx, p.retryCfg, "install dependencies", func(ctx context.Context) error {
		return p.builder.InstallDependencies(ctx, job.ID, projectRoot)
	})
	if err != nil {
		return "", err
	}

	artifactPath, err := p.builder.Run(ctx, job.ID, job.BuildMode, projectRoot)
	if err != nil {
		return "", err
	}

	p.relay.Log(job.ID, "publishing artifact")
	var outputURL string
	err = retry.Do(ctx, p.retryCfg, "publish artifact", func(ctx context.Context) error {
		var perr error
		outputURL, perr = p.publisher.Publish(ctx, job.ID, artifactPath)
		return perr
	})
	if err != nil {
		// The build itself succeeded; the reported error must say so.
		if errors.Is(err, publisher.ErrPublish) {
			return "", fmt.Errorf("build succeeded, publish failed: %w", err)
		}
		return "", err
	}

	return outputURL, nil
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
