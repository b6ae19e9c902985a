package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenline-analytics/lca-cli/internal/agent"
	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/internal/pipeline"
	"github.com/greenline-analytics/lca-cli/internal/resilience"
	"github.com/greenline-analytics/lca-cli/internal/store"
	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

// offlineClient stands in for the Anthropic API; every call fails so agents
// and synthesis exercise their local fallbacks.
type offlineClient struct{}

func (offlineClient) CreateMessage(context.Context, claude.MessageRequest) (*claude.MessageResponse, error) {
	return nil, eris.New("offline")
}

func newTestEnv(t *testing.T) *pipelineEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	client := offlineClient{}
	registry := agent.NewRegistry(agent.Deps{
		Claude:     client,
		HaikuModel: "haiku",
		Retry:      resilience.RetryConfig{MaxAttempts: 1},
	})

	controller := pipeline.New(pipeline.Deps{
		Store:       st,
		Router:      pipeline.NewRouter(client, "haiku"),
		Dispatcher:  pipeline.NewDispatcher(registry, pipeline.StoreBlobs{Store: st}, st, 4, 0),
		Normalizer:  pipeline.NewNormalizer(st),
		Validator:   pipeline.NewValidator(pipeline.NewLLMValidator(client, "sonnet", 0)),
		Synthesizer: pipeline.NewSynthesizer(client, "sonnet", 0, 0),
		Reporter:    pipeline.NewReporter(st, []string{"sonnet"}),
		Sink:        joblog.NewBuffer(1000),
	})

	return &pipelineEnv{Store: st, Controller: controller}
}

func TestServeMux_Health(t *testing.T) {
	mux := newServeMux(context.Background(), newTestEnv(t))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServeMux_GetJob_NotFound(t *testing.T) {
	mux := newServeMux(context.Background(), newTestEnv(t))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServeMux_GetJob(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.Store.CreateJob(context.Background(), 1, "steel study")
	require.NoError(t, err)

	mux := newServeMux(context.Background(), env)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var got model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "steel study", got.UserContext)
}

func TestServeMux_GetReport(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.Store.CreateJob(context.Background(), 1, "")
	require.NoError(t, err)

	mux := newServeMux(context.Background(), env)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/report", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	require.NoError(t, env.Store.PutArtifact(context.Background(), job.ID,
		pipeline.ArtifactReport, "text/markdown", []byte("# LCA Analysis Report")))

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/report", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/markdown", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "# LCA Analysis Report")
}

func TestServeMux_GetLogs(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.Store.CreateJob(context.Background(), 1, "")
	require.NoError(t, err)
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, env.Store.AppendJobLog(context.Background(), job.ID, joblog.Entry{
			Timestamp: time.Now().UTC(), Level: "info", Stage: "routing", Message: msg,
		}))
	}

	mux := newServeMux(context.Background(), env)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/logs?tail=2", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Entries []joblog.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "two", body.Entries[0].Message)
	assert.Equal(t, "three", body.Entries[1].Message)
}

func TestServeMux_CreateJob_NoFiles(t *testing.T) {
	mux := newServeMux(context.Background(), newTestEnv(t))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("context", "no files attached"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "at least one file is required")
}

func TestServeMux_CreateJob_InvalidBody(t *testing.T) {
	mux := newServeMux(context.Background(), newTestEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte("not multipart")))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServeMux_CreateJob_RunsToCompletion(t *testing.T) {
	env := newTestEnv(t)
	mux := newServeMux(context.Background(), env)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Functional unit: 1 kg steel. Climate change: 2.1 kg CO2 eq."))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("context", "steel study"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp struct {
		JobID string `json:"job_id"`
		Files int    `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	assert.Equal(t, 1, resp.Files)

	// The offline model client fails fast, so the pipeline runs through its
	// local fallbacks and completes quickly.
	require.Eventually(t, func() bool {
		job, err := env.Store.GetJob(context.Background(), resp.JobID)
		return err == nil && job.Status == model.JobStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	job, err := env.Store.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.NotNil(t, job.Result)
	assert.Equal(t, 1, job.Result.FilesCompleted)
	assert.Contains(t, job.Result.ArtifactKeys, "report")
}
