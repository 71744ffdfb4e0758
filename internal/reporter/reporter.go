// Package reporter delivers terminal job results to the coordinator and,
// optionally, to a job-supplied webhook. Both deliveries are best-effort:
// the job's terminal state is already decided, so a delivery failure is
// logged and swallowed, never retried at the job level.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hangar/rivet/internal/client"
	"hangar/rivet/internal/relay"
	"hangar/rivet/internal/retry"
)

// ErrReportDelivery marks a failed result delivery. Non-fatal by contract.
var ErrReportDelivery = errors.New("result delivery failed")

// Reporter posts job results.
type Reporter struct {
	client      *client.Client
	relay       *relay.Relay
	maxAttempts int
}

// New creates a reporter. maxAttempts bounds coordinator delivery retries;
// 1 means a single attempt. Webhook delivery is always a single attempt.
func New(c *client.Client, rl *relay.Relay, maxAttempts int) *Reporter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Reporter{
		client:      c,
		relay:       rl,
		maxAttempts: maxAttempts,
	}
}

// Report sends res to the coordinator and, when webhookURL is non-empty, to
// the webhook. The two sinks are decoupled: neither failure suppresses or
// alters the other delivery.
func (r *Reporter) Report(ctx context.Context, res client.Result, webhookURL string) {
	cfg := retry.Config{
		MaxAttempts:    r.maxAttempts,
		InitialBackoff: 2 * time.Second,
	}

	err := retry.Do(ctx, cfg, "report result", func(ctx context.Context) error {
		return r.client.PostResult(ctx, res)
	})
	if err != nil {
		r.relay.Log(res.JobID, "failed to report result to coordinator: %v",
			fmt.Errorf("%w: %v", ErrReportDelivery, err))
	} else {
		r.relay.Log(res.JobID, "reported %s result to coordinator", res.Status)
	}

	if webhookURL == "" {
		return
	}

	if err := r.client.PostWebhook(ctx, webhookURL, res); err != nil {
		r.relay.Log(res.JobID, "failed to deliver webhook: %v",
			fmt.Errorf("%w: %v", ErrReportDelivery, err))
	} else {
		r.relay.Log(res.JobID, "delivered result to webhook")
	}
}
