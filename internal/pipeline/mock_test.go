package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/internal/store"
	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

// mockClient answers via a handler keyed on prompt content, falling back to
// a fixed response. Safe for concurrent use.
type mockClient struct {
	mu       sync.Mutex
	requests []claude.MessageRequest
	handler  func(req claude.MessageRequest) (string, error)
	response string
	err      error
}

func (m *mockClient) CreateMessage(_ context.Context, req claude.MessageRequest) (*claude.MessageResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.handler != nil {
		text, err := m.handler(req)
		if err != nil {
			return nil, err
		}
		return textResponse(text), nil
	}
	if m.err != nil {
		return nil, m.err
	}
	return textResponse(m.response), nil
}

func (m *mockClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func textResponse(text string) *claude.MessageResponse {
	return &claude.MessageResponse{Content: []claude.ContentBlock{{Type: "text", Text: text}}}
}

func promptOf(req claude.MessageRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[0].Content
}

// stubAgent returns a fixed output or error for any task.
type stubAgent struct {
	output model.ParsedOutput
	err    error
}

func (a *stubAgent) Extract(_ context.Context, task model.FileTask, _ []byte) (*model.ParsedOutput, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := a.output
	out.FileID = task.FileID
	out.JobID = task.JobID
	out.FileName = task.Name
	out.FileType = task.Type
	out.Agent = task.Agent
	if out.Status == "" {
		out.Status = model.FileStatusCompleted
	}
	return &out, nil
}

// memBlobs serves task bytes from a map keyed by locator.
type memBlobs map[string][]byte

func (b memBlobs) Load(_ context.Context, task model.FileTask) ([]byte, error) {
	data, ok := b[task.Locator]
	if !ok {
		return nil, eris.Errorf("mock: no blob for %s", task.Locator)
	}
	return data, nil
}

// memStore is an in-memory store.Store for pipeline tests.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	records   map[string]model.FileRecord
	artifacts map[string][]byte
	logs      map[string][]joblog.Entry
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[string]*model.Job),
		records:   make(map[string]model.FileRecord),
		artifacts: make(map[string][]byte),
		logs:      make(map[string][]joblog.Entry),
	}
}

func (s *memStore) CreateJob(_ context.Context, fileCount int, userContext string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &model.Job{ID: "job-1", Status: model.JobStatusPending, FileCount: fileCount, UserContext: userContext}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *memStore) UpdateJobStatus(_ context.Context, jobID string, status model.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return eris.Errorf("job not found: %s", jobID)
	}
	job.Status = status
	return nil
}

func (s *memStore) FailJob(_ context.Context, jobID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return eris.Errorf("job not found: %s", jobID)
	}
	job.Status = model.JobStatusFailed
	job.Error = errMsg
	return nil
}

func (s *memStore) UpdateJobResult(_ context.Context, jobID string, result *model.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return eris.Errorf("job not found: %s", jobID)
	}
	job.Status = model.JobStatusCompleted
	job.Result = result
	return nil
}

func (s *memStore) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *memStore) ListJobs(_ context.Context, _ store.JobFilter) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []model.Job
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

func (s *memStore) UpsertFileRecord(_ context.Context, rec model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.FileID] = rec
	return nil
}

func (s *memStore) ListFileRecords(_ context.Context, jobID string) ([]model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []model.FileRecord
	for _, r := range s.records {
		if r.JobID == jobID {
			recs = append(recs, r)
		}
	}
	return recs, nil
}

func (s *memStore) PutArtifact(_ context.Context, jobID, key, _ string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[jobID+"/"+key] = data
	return nil
}

func (s *memStore) GetArtifact(_ context.Context, jobID, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.artifacts[jobID+"/"+key]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	return data, "application/octet-stream", nil
}

func (s *memStore) ListArtifactKeys(_ context.Context, jobID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.artifacts {
		if strings.HasPrefix(k, jobID+"/") {
			keys = append(keys, strings.TrimPrefix(k, jobID+"/"))
		}
	}
	return keys, nil
}

func (s *memStore) AppendJobLog(_ context.Context, jobID string, e joblog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[jobID] = append(s.logs[jobID], e)
	return nil
}

func (s *memStore) TailJobLog(_ context.Context, jobID string, n int) ([]joblog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.logs[jobID]
	if n <= 0 || n >= len(list) {
		return append([]joblog.Entry(nil), list...), nil
	}
	return append([]joblog.Entry(nil), list[len(list)-n:]...), nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

// fixedSemantic returns canned assessments.
type fixedSemantic struct {
	taxonomy     model.SemanticAssessment
	plausibility model.PlausibilityAssessment
}

func (f *fixedSemantic) AssessTaxonomy(context.Context, string) model.SemanticAssessment {
	return f.taxonomy
}

func (f *fixedSemantic) AssessPlausibility(context.Context, string) model.PlausibilityAssessment {
	return f.plausibility
}
