package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/h0rv/jex/internal/checkpoint"
	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/jira"
	"github.com/h0rv/jex/internal/paginate"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two pages whose headers disagree on the number of Comment columns.
var testPages = map[int]string{
	0: "Project key,Project name,Issue key,Issue id,Summary,Comment\n" +
		"IT,Internal,IT-1,10001,First,05/Mar/24 2:30 PM;alice;hello\n" +
		"IT,Internal,IT-2,10002,Second,\n",
	2: "Project key,Project name,Issue key,Issue id,Summary,Comment,Comment\n" +
		"OPS,Operations,OPS-1,20001,Third,06/Mar/24 9:00 AM;bob;one,07/Mar/24 9:00 AM;bob;two\n",
}

// stubRemote is an in-memory Jira instance.
type stubRemote struct {
	mu       sync.Mutex
	authErr  error
	failAt   map[int]error // ExportCSV errors keyed by start offset
	exported []int
	catalog  int
	empty    bool // The query matches no issues
}

func (s *stubRemote) CheckAuth(context.Context) error { return s.authErr }
func (s *stubRemote) BaseURL() string                 { return "https://jira.example.com" }

func (s *stubRemote) SearchTotal(context.Context, string) (int, error) {
	if s.empty {
		return 0, nil
	}
	return 3, nil
}

func (s *stubRemote) ExportCSV(_ context.Context, _ string, start, _ int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exported = append(s.exported, start)
	if err := s.failAt[start]; err != nil {
		return nil, err
	}
	if s.empty {
		return nil, nil
	}
	return []byte(testPages[start]), nil
}

func (s *stubRemote) ProjectComponents(_ context.Context, key string) ([]domain.Component, error) {
	s.mu.Lock()
	s.catalog++
	s.mu.Unlock()
	return []domain.Component{{Name: key + "-core"}}, nil
}

func (s *stubRemote) ProjectVersions(context.Context, string) ([]domain.Version, error) {
	return []domain.Version{{Name: "1.0", Released: true}}, nil
}

func (s *stubRemote) Fields(context.Context) ([]domain.FieldDescriptor, error) {
	return nil, nil
}

func (s *stubRemote) AllUsers(context.Context) ([]domain.User, error) {
	return []domain.User{
		{AccountID: "a-1", DisplayName: "alice"},
		{AccountID: "b-1", DisplayName: "bob"},
	}, nil
}

func (s *stubRemote) UserGroups(_ context.Context, id string) ([]string, error) {
	return []string{"group-" + id}, nil
}

func (s *stubRemote) Search(context.Context, jira.SearchRequest) (jira.SearchResult, error) {
	return jira.SearchResult{}, nil
}

func (s *stubRemote) IssueChangelog(_ context.Context, key string) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"key":%q,"changelog":{"histories":[
		{"id":"1","author":{"displayName":"alice"},"created":"2024-03-05T14:30:00.000+0000",
		 "items":[{"field":"status","fromString":"Open","toString":"Done"}]}]}}`, key)), nil
}

func (s *stubRemote) TokenPaging() bool { return false }

func createTestExporter(remote Remote, dir string, prompter paginate.Prompter) *Exporter {
	return New(remote, Options{
		WorkDir:     dir,
		Workers:     2,
		Prompter:    prompter,
		MaxAttempts: 2,
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		Logger:      zerolog.Nop(),
	})
}

func createTestJob(t *testing.T, format domain.OutputFormat) Job {
	t.Helper()
	return Job{
		Query:      "project in (IT, OPS)",
		PageSize:   2,
		Format:     format,
		Output:     filepath.Join(t.TempDir(), "out."+string(format)),
		DateFormat: "02/Jan/06 3:04 PM",
	}
}

// assertCleanWorkDir verifies no page file or checkpoint is left behind.
func assertCleanWorkDir(t *testing.T, dir string) {
	t.Helper()
	pages, err := filepath.Glob(filepath.Join(dir, JobKey+"-*.csv"))
	require.NoError(t, err)
	assert.Empty(t, pages)
	assert.NoFileExists(t, checkpoint.New(dir, JobKey, zerolog.Nop()).Path())
}

func TestJob_Validate(t *testing.T) {
	valid := Job{Query: "project = IT", PageSize: 10, Format: domain.FormatCSV, Output: "out.csv"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(j *Job)
	}{
		{"empty query", func(j *Job) { j.Query = " " }},
		{"zero page size", func(j *Job) { j.PageSize = 0 }},
		{"unknown format", func(j *Job) { j.Format = "xml" }},
		{"include and exclude", func(j *Job) {
			j.Policy = domain.FieldPolicy{Include: []string{"a"}, Exclude: []string{"b"}}
		}},
		{"no output", func(j *Job) { j.Output = "" }},
		{"history on csv", func(j *Job) { j.WithHistory = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := valid
			tt.modify(&job)
			assert.ErrorIs(t, job.Validate(), ErrInvalidJob)
		})
	}
}

// TestRun_InvalidJobMakesNoRequest verifies validation happens first.
func TestRun_InvalidJobMakesNoRequest(t *testing.T) {
	remote := &stubRemote{authErr: errors.New("must not be called")}
	_, err := createTestExporter(remote, t.TempDir(), nil).Run(context.Background(), Job{})

	assert.ErrorIs(t, err, ErrInvalidJob)
}

// TestRun_Unauthorized verifies a rejected auth check stops before any page.
func TestRun_Unauthorized(t *testing.T) {
	remote := &stubRemote{authErr: fmt.Errorf("%w: 401", jira.ErrUnauthorized)}
	_, err := createTestExporter(remote, t.TempDir(), nil).Run(context.Background(), createTestJob(t, domain.FormatCSV))

	assert.ErrorIs(t, err, jira.ErrUnauthorized)
	assert.Empty(t, remote.exported)
}

// TestRun_CSV verifies pages are reconciled into one table and cleaned up.
func TestRun_CSV(t *testing.T) {
	dir := t.TempDir()
	remote := &stubRemote{}
	job := createTestJob(t, domain.FormatCSV)
	job.Policy = domain.FieldPolicy{Exclude: []string{"Project name"}}

	res, err := createTestExporter(remote, dir, nil).Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, []int{0, 2}, remote.exported)

	data, err := os.ReadFile(job.Output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Project key,Issue key,Issue id,Summary,Comment,Comment", lines[0])
	assert.Equal(t, "IT,IT-2,10002,Second,,", lines[2])
	assertCleanWorkDir(t, dir)
}

// TestRun_JSON verifies the document tree with catalog, users and history.
func TestRun_JSON(t *testing.T) {
	dir := t.TempDir()
	remote := &stubRemote{}
	job := createTestJob(t, domain.FormatJSON)
	job.WithUsers = true
	job.WithHistory = true

	res, err := createTestExporter(remote, dir, nil).Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Projects)
	assert.Equal(t, 3, res.Issues)
	assert.Equal(t, 2, remote.catalog, "one catalog lookup per project")

	data, err := os.ReadFile(job.Output)
	require.NoError(t, err)
	var doc domain.ExportDocument
	require.NoError(t, json.Unmarshal(data, &doc))

	require.Len(t, doc.Projects, 2)
	it := doc.Projects[0]
	assert.Equal(t, "IT", it.Key)
	assert.Equal(t, "Internal", it.Name)
	assert.Equal(t, []domain.Component{{Name: "IT-core"}}, it.Components)
	require.Len(t, it.Issues, 2)
	require.Len(t, it.Issues[0].Comments, 1)
	assert.Equal(t, "hello", it.Issues[0].Comments[0].Body)
	require.Len(t, it.Issues[0].History, 1)
	assert.Equal(t, "Done", it.Issues[0].History[0].ToString)

	ops := doc.Projects[1]
	require.Len(t, ops.Issues, 1)
	assert.Len(t, ops.Issues[0].Comments, 2)

	require.Len(t, doc.Users, 2)
	assert.Equal(t, []string{"group-a-1"}, doc.Users[0].Groups)
	assertCleanWorkDir(t, dir)
}

// TestRun_ResumeMatchesUninterrupted verifies that a run interrupted after
// the first page and then resumed writes the same bytes as a clean run.
// TestRun_NoMatchingIssues verifies a query without results writes an empty
// export and completes the job.
func TestRun_NoMatchingIssues(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		dir := t.TempDir()
		job := createTestJob(t, domain.FormatJSON)
		res, err := createTestExporter(&stubRemote{empty: true}, dir, nil).Run(context.Background(), job)
		require.NoError(t, err)
		assert.Zero(t, res.Rows)
		assert.Zero(t, res.Issues)

		data, err := os.ReadFile(job.Output)
		require.NoError(t, err)
		assert.JSONEq(t, `{"projects":[]}`, string(data))
		assertCleanWorkDir(t, dir)
	})

	t.Run("csv", func(t *testing.T) {
		dir := t.TempDir()
		job := createTestJob(t, domain.FormatCSV)
		_, err := createTestExporter(&stubRemote{empty: true}, dir, nil).Run(context.Background(), job)
		require.NoError(t, err)

		data, err := os.ReadFile(job.Output)
		require.NoError(t, err)
		assert.Empty(t, data)
		assertCleanWorkDir(t, dir)
	})
}

func TestRun_ResumeMatchesUninterrupted(t *testing.T) {
	for _, format := range []domain.OutputFormat{domain.FormatCSV, domain.FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			job := createTestJob(t, format)

			_, err := createTestExporter(&stubRemote{}, t.TempDir(), nil).Run(context.Background(), job)
			require.NoError(t, err)
			want, err := os.ReadFile(job.Output)
			require.NoError(t, err)
			require.NoError(t, os.Remove(job.Output))

			dir := t.TempDir()
			remote := &stubRemote{failAt: map[int]error{2: &jira.StatusError{Code: 404}}}
			_, err = createTestExporter(remote, dir, nil).Run(context.Background(), job)
			require.Error(t, err)
			assert.NoFileExists(t, job.Output)

			cp, err := checkpoint.New(dir, JobKey, zerolog.Nop()).Load()
			require.NoError(t, err)
			require.NotNil(t, cp)
			assert.Len(t, cp.DataBlock, 1)

			remote.failAt = nil
			remote.exported = nil
			res, err := createTestExporter(remote, dir, paginate.Always(paginate.DecisionResume)).Run(context.Background(), job)
			require.NoError(t, err)
			assert.True(t, res.Resumed)
			assert.Equal(t, []int{2}, remote.exported, "only the missing page is fetched")

			got, err := os.ReadFile(job.Output)
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got))
			assertCleanWorkDir(t, dir)
		})
	}
}

// TestRun_DiscardRemovesPages verifies a discarded checkpoint takes its page
// files with it.
func TestRun_DiscardRemovesPages(t *testing.T) {
	dir := t.TempDir()
	job := createTestJob(t, domain.FormatCSV)

	stale := filepath.Join(dir, JobKey+"-stale.csv")
	require.NoError(t, os.WriteFile(stale, []byte("Issue key\nX-1\n"), 0o644))
	iter := 2
	require.NoError(t, checkpoint.New(dir, JobKey, zerolog.Nop()).Save(&checkpoint.Checkpoint{
		Iter: &iter, Key: JobKey, Query: job.Query, Status: checkpoint.StatusInProgress,
		DataBlock: []json.RawMessage{json.RawMessage(`"` + JobKey + `-stale.csv"`)}, Point: 1,
	}))

	remote := &stubRemote{}
	res, err := createTestExporter(remote, dir, paginate.Always(paginate.DecisionDiscard)).Run(context.Background(), job)
	require.NoError(t, err)

	assert.False(t, res.Resumed)
	assert.Equal(t, []int{0, 2}, remote.exported)
	assert.NoFileExists(t, stale)
	assertCleanWorkDir(t, dir)
}
