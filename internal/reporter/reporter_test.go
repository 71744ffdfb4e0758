package reporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hangar/rivet/internal/client"
	"hangar/rivet/internal/relay"
	"hangar/rivet/pkg/logger"
)

func testRelay() *relay.Relay {
	return relay.New("ws://unused", time.Second, logger.Default())
}

func TestReport_DeliversToCoordinatorAndWebhook(t *testing.T) {
	var coordGot, hookGot client.Result
	var coordCalls, hookCalls int32

	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&coordCalls, 1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&coordGot))
	}))
	defer coord.Close()

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hookCalls, 1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&hookGot))
	}))
	defer hook.Close()

	rep := New(client.NewClient(coord.URL, "agent-1"), testRelay(), 1)
	res := client.Result{JobID: "abc", Status: client.StatusSuccess, OutputURL: "https://cdn/abc.zip"}
	rep.Report(context.Background(), res, hook.URL)

	assert.Equal(t, int32(1), coordCalls)
	assert.Equal(t, int32(1), hookCalls)
	assert.Equal(t, res, coordGot)
	assert.Equal(t, res, hookGot)
}

func TestReport_WebhookFailureDoesNotAffectCoordinator(t *testing.T) {
	var coordCalls int32
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&coordCalls, 1)
	}))
	defer coord.Close()

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer hook.Close()

	rep := New(client.NewClient(coord.URL, "agent-1"), testRelay(), 1)
	rep.Report(context.Background(), client.Result{JobID: "abc", Status: client.StatusFailed, Error: "x"}, hook.URL)

	assert.Equal(t, int32(1), coordCalls)
}

func TestReport_CoordinatorFailureStillDeliversWebhook(t *testing.T) {
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer coord.Close()

	var hookCalls int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hookCalls, 1)
	}))
	defer hook.Close()

	rep := New(client.NewClient(coord.URL, "agent-1"), testRelay(), 1)
	rep.Report(context.Background(), client.Result{JobID: "abc", Status: client.StatusFailed, Error: "x"}, hook.URL)

	assert.Equal(t, int32(1), hookCalls)
}

func TestReport_NoWebhookConfigured(t *testing.T) {
	var coordCalls int32
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&coordCalls, 1)
	}))
	defer coord.Close()

	rep := New(client.NewClient(coord.URL, "agent-1"), testRelay(), 1)
	rep.Report(context.Background(), client.Result{JobID: "abc", Status: client.StatusSuccess}, "")

	assert.Equal(t, int32(1), coordCalls)
}

func TestReport_BoundedCoordinatorRetry(t *testing.T) {
	var coordCalls int32
	coord := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&coordCalls, 1) == 1 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
	}))
	defer coord.Close()

	rep := New(client.NewClient(coord.URL, "agent-1"), testRelay(), 2)
	rep.Report(context.Background(), client.Result{JobID: "abc", Status: client.StatusSuccess}, "")

	assert.Equal(t, int32(2), coordCalls)
}
