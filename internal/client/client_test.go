package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextJob_DecodesJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/next", r.URL.Path)
		assert.Equal(t, "agent-1", r.Header.Get("X-Agent-ID"))
		json.NewEncoder(w).Encode(map[string]string{
			"job_id":      "abc",
			"zip_url":     "https://x/abc.zip",
			"build_mode":  "release",
			"webhook_url": "https://hook/cb",
		})
	}))
	defer srv.Close()

	job, err := NewClient(srv.URL, "agent-1").NextJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "abc", job.ID)
	assert.Equal(t, "https://x/abc.zip", job.ZipURL)
	assert.Equal(t, "release", job.BuildMode)
	assert.Equal(t, "https://hook/cb", job.WebhookURL)
}

func TestNextJob_EmptyObjectMeansNoJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	job, err := NewClient(srv.URL, "agent-1").NextJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestNextJob_NullBodyMeansNoJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	}))
	defer srv.Close()

	job, err := NewClient(srv.URL, "agent-1").NextJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestNextJob_DefaultsBuildMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"job_id":  "abc",
			"zip_url": "https://x/abc.zip",
		})
	}))
	defer srv.Close()

	job, err := NewClient(srv.URL, "agent-1").NextJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "simulator", job.BuildMode)
}

func TestNextJob_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "agent-1").NextJob(context.Background())
	require.Error(t, err)
}

func TestPostResult_SendsPayload(t *testing.T) {
	var got Result
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/result", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	res := Result{JobID: "abc", Status: StatusSuccess, OutputURL: "https://cdn/abc.zip"}
	require.NoError(t, NewClient(srv.URL, "agent-1").PostResult(context.Background(), res))
	assert.Equal(t, res, got)
}

func TestPostWebhook_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient("http://unused", "agent-1").PostWebhook(context.Background(),
		srv.URL, Result{JobID: "abc", Status: StatusFailed, Error: "boom"})
	require.Error(t, err)
}
