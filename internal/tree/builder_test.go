package tree

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/entity"
	"github.com/h0rv/jex/internal/fetch"
	"github.com/h0rv/jex/internal/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLayout = "02/Jan/06 3:04 PM"

func createTestTable(t *testing.T, doc string) *schema.Table {
	t.Helper()
	table, err := schema.ReadCSV(strings.NewReader(doc))
	require.NoError(t, err)
	return table
}

type stubCatalog struct{ calls atomic.Int32 }

func (s *stubCatalog) Lookup(_ context.Context, key string) (fetch.ProjectInfo, error) {
	s.calls.Add(1)
	return fetch.ProjectInfo{Components: []domain.Component{{Name: key + "-core"}}}, nil
}

type stubSprints map[string]domain.Sprint

func (s stubSprints) Resolve(_ context.Context, name string) (domain.Sprint, error) {
	if sp, ok := s[name]; ok {
		return sp, nil
	}
	return domain.Sprint{}, entity.ErrSprintNotFound
}

type stubHistory map[string][]domain.HistoryRecord

func (s stubHistory) ForIssue(_ context.Context, key string) ([]domain.HistoryRecord, error) {
	if h, ok := s[key]; ok {
		return h, nil
	}
	return nil, errors.New("boom")
}

func TestBuild_ProjectsAndIssues(t *testing.T) {
	table := createTestTable(t, ""+
		"Project key,Project name,Project type,Issue key,Issue id,Summary,Status,Created,Labels,Labels,Component/s\n"+
		"IT,Internal,software,IT-1,10001,First,Open,05/Mar/24 2:30 PM,a,b,api\n"+
		"OPS,Operations,business,OPS-1,20001,Other,Done,06/Mar/24 9:00 AM,,,\n"+
		"IT,Internal,software,IT-2,10002,Second,Open,07/Mar/24 10:15 AM,c,,\n")

	catalog := &stubCatalog{}
	b := NewBuilder(Options{
		DateFormat: testLayout,
		Catalog:    catalog,
		Templates:  Templates{Projects: map[string]Template{"IT": {Template: "scrum", Workflow: "IT Flow"}}},
		Logger:     zerolog.Nop(),
	})
	st, err := b.Build(context.Background(), table)
	require.NoError(t, err)

	projects := st.GetProjects()
	require.Len(t, projects, 2)
	assert.Equal(t, int32(2), catalog.calls.Load(), "each project is enriched once")

	it := projects[0]
	assert.Equal(t, "IT", it.Key)
	assert.Equal(t, "Internal", it.Name)
	assert.Equal(t, "software", it.Type)
	assert.Equal(t, "scrum", it.Template)
	assert.Equal(t, "IT Flow", it.Workflow)
	assert.Equal(t, "IT-core", it.Components[0].Name)
	require.Len(t, it.Issues, 2)

	first := it.Issues[0]
	assert.Equal(t, "IT-1", first.Key)
	assert.Equal(t, "10001", first.ExternalID)
	assert.Equal(t, "2024-03-05T14:30:00Z", first.Created)
	assert.Equal(t, []string{"a", "b"}, first.Labels)
	assert.Equal(t, []string{"api"}, first.Components)
	assert.Empty(t, projects[1].Issues[0].Labels, "empty list cells add nothing")
}

// TestBuild_SystemFieldRoundTrip verifies Build followed by Flatten returns
// the original system field values.
func TestBuild_SystemFieldRoundTrip(t *testing.T) {
	header := []string{"Project key", "Issue key", "Issue id", "Summary", "Issue Type", "Status",
		"Priority", "Resolution", "Reporter", "Assignee", "Created", "Updated", "Description", "Original Estimate"}
	row := []string{"IT", "IT-7", "10007", "Broken build", "Bug", "In Progress",
		"High", "Unresolved", "Ann Lee", "Sam Roe", "05/Mar/24 2:30 PM", "06/Mar/24 11:00 AM", "Steps: run; fail", "5400"}

	table := &schema.Table{Header: header, Rows: [][]schema.Cell{make([]schema.Cell, len(row))}}
	for i, v := range row {
		table.Rows[0][i] = schema.Str(v)
	}

	b := NewBuilder(Options{DateFormat: testLayout, Logger: zerolog.Nop()})
	st, err := b.Build(context.Background(), table)
	require.NoError(t, err)

	issue, err := st.GetIssue("IT-7")
	require.NoError(t, err)
	assert.Equal(t, "IT", issue.ProjectKey)
	assert.Equal(t, "PT1H30M", issue.OriginalEstimate)

	want := make(map[string]string, len(header))
	for i, h := range header {
		want[h] = row[i]
	}
	assert.Equal(t, want, Flatten(issue, b.Dates().Detected()))
}

func TestBuild_CustomFields(t *testing.T) {
	table := createTestTable(t, ""+
		"Project key,Issue key,Custom field (Team),Custom field (Team),Custom field (Story Points),Custom field (Legacy)\n"+
		"IT,IT-1,Blue,Red,5,old value\n")

	b := NewBuilder(Options{
		DateFormat: testLayout,
		Fields: map[string]domain.FieldDescriptor{
			"Custom field (Team)":         {DisplayName: "Team", InternalID: "customfield_1", CustomType: domain.CustomTypeMultiSelect},
			"Custom field (Story Points)": {DisplayName: "Story Points", InternalID: "customfield_2"},
		},
		Logger: zerolog.Nop(),
	})
	st, err := b.Build(context.Background(), table)
	require.NoError(t, err)

	issue, err := st.GetIssue("IT-1")
	require.NoError(t, err)
	require.Len(t, issue.CustomFields, 2)
	assert.Equal(t, "Team", issue.CustomFields[0].FieldName)
	assert.Equal(t, []string{"Blue", "Red"}, issue.CustomFields[0].Value)
	assert.Equal(t, "5", issue.CustomFields[1].Value)
	assert.Equal(t, "old value", issue.Fields["Custom field (Legacy)"], "unresolved custom fields pass through")
}

// TestBuild_RepeatedCustomColumn verifies a repeated column of a custom
// type not known to be multi-valued keeps every value.
func TestBuild_RepeatedCustomColumn(t *testing.T) {
	table := createTestTable(t, ""+
		"Project key,Issue key,Custom field (Checklist),Custom field (Checklist)\n"+
		"IT,IT-1,a,b\n"+
		"IT,IT-2,only,\n")

	b := NewBuilder(Options{
		DateFormat: testLayout,
		Fields: map[string]domain.FieldDescriptor{
			"Custom field (Checklist)": {DisplayName: "Checklist", InternalID: "customfield_3", CustomType: "com.example:checklist"},
		},
		Logger: zerolog.Nop(),
	})
	st, err := b.Build(context.Background(), table)
	require.NoError(t, err)

	issue, err := st.GetIssue("IT-1")
	require.NoError(t, err)
	require.Len(t, issue.CustomFields, 1)
	assert.Equal(t, []string{"a", "b"}, issue.CustomFields[0].Value)

	single, err := st.GetIssue("IT-2")
	require.NoError(t, err)
	require.Len(t, single.CustomFields, 1)
	assert.Equal(t, "only", single.CustomFields[0].Value, "a single value stays scalar")
}

// TestBuild_DuplicateIssueRow verifies a repeated issue row is skipped
// instead of failing the build.
func TestBuild_DuplicateIssueRow(t *testing.T) {
	table := createTestTable(t, ""+
		"Project key,Issue key,Issue id,Summary\n"+
		"IT,IT-1,10001,First\n"+
		"IT,IT-1,10001,First\n"+
		"IT,IT-2,10002,Second\n")

	st, err := NewBuilder(Options{DateFormat: testLayout, Logger: zerolog.Nop()}).Build(context.Background(), table)
	require.NoError(t, err)

	projects := st.GetProjects()
	require.Len(t, projects, 1)
	require.Len(t, projects[0].Issues, 2)
	assert.Equal(t, "IT-1", projects[0].Issues[0].Key)
	assert.Equal(t, "IT-2", projects[0].Issues[1].Key)
}

func TestBuild_DelimitedCells(t *testing.T) {
	table := createTestTable(t, ""+
		"Project key,Issue key,Comment,Comment,Attachment,Log Work\n"+
		"IT,IT-1,05/Mar/24 2:30 PM;a1;hello,,05/Mar/24 2:31 PM;a1;log.txt;https://jira/secure/attachment/1/log.txt,did it;05/Mar/24 3:00 PM;a1;1800\n")

	st, err := NewBuilder(Options{DateFormat: testLayout, Logger: zerolog.Nop()}).Build(context.Background(), table)
	require.NoError(t, err)

	issue, err := st.GetIssue("IT-1")
	require.NoError(t, err)
	require.Len(t, issue.Comments, 1)
	assert.Equal(t, domain.Comment{Created: "2024-03-05T14:30:00Z", Author: "a1", Body: "hello"}, issue.Comments[0])
	require.Len(t, issue.Attachments, 1)
	assert.Equal(t, "log.txt", issue.Attachments[0].Name)
	require.Len(t, issue.Worklogs, 1)
	assert.Equal(t, "PT30M", issue.Worklogs[0].TimeSpent)
	assert.Equal(t, "2024-03-05T15:00:00Z", issue.Worklogs[0].StartDate)
}

func TestBuild_UnknownDateFormatIsFatal(t *testing.T) {
	table := createTestTable(t, "Project key,Issue key,Created\nIT,IT-1,sometime\n")

	_, err := NewBuilder(Options{DateFormat: testLayout, Logger: zerolog.Nop()}).Build(context.Background(), table)
	var formatErr *FormatError
	require.True(t, errors.As(err, &formatErr))
	assert.Equal(t, "sometime", formatErr.Value)
}

func TestBuild_MissingProjectKeyColumn(t *testing.T) {
	table := createTestTable(t, "Issue key,Summary\nIT-1,x\n")
	_, err := NewBuilder(Options{Logger: zerolog.Nop()}).Build(context.Background(), table)
	assert.ErrorIs(t, err, schema.ErrMissingColumn)
}

func TestBuild_UsersSprintsLinksHistory(t *testing.T) {
	table := createTestTable(t, ""+
		"Project key,Issue key,Issue id,Parent id,Reporter,Assignee,Sprint,Sprint,Inward issue link (Blocks)\n"+
		"IT,IT-1,10001,,Ann Lee,Sam Roe,Sprint 1,Sprint 2,\n"+
		"IT,IT-2,10002,10001,Ann Lee,,Sprint 1,,IT-1\n")

	users := entity.NewDirectory([]domain.User{
		{AccountID: "a1", DisplayName: "Ann Lee"},
		{AccountID: "s1", DisplayName: "Sam Roe"},
		{AccountID: "s2", DisplayName: "Sam Roe"},
	}, nil)

	b := NewBuilder(Options{
		DateFormat: testLayout,
		Users:      users,
		Sprints:    stubSprints{"Sprint 1": {ID: 9, Name: "Sprint 1", State: "active"}},
		History:    stubHistory{"IT-1": {{IssueKey: "IT-1", Field: "status", FromString: "Open", ToString: "Done"}}},
		Workers:    3,
		Logger:     zerolog.Nop(),
	})
	st, err := b.Build(context.Background(), table)
	require.NoError(t, err)

	first, _ := st.GetIssue("IT-1")
	second, _ := st.GetIssue("IT-2")

	assert.Equal(t, &domain.UserRef{Name: "Ann Lee", AccountID: "a1"}, first.Reporter)
	assert.Equal(t, []string{"s1", "s2"}, first.Assignee.Candidates)
	assert.Empty(t, first.Assignee.AccountID)

	assert.Equal(t, []domain.Sprint{{ID: 9, Name: "Sprint 1", State: "active"}, {Name: "Sprint 2"}}, first.Sprints)

	require.Len(t, first.History, 1)
	assert.Equal(t, "Done", first.History[0].ToString)
	assert.Empty(t, second.History, "a failed history fetch leaves the issue without history")

	assert.Equal(t, []domain.Link{
		{Name: "Blocks", SourceID: "IT-1", DestinationID: "IT-2"},
		{Name: domain.SubtaskLinkName, SourceID: "IT-1", DestinationID: "IT-2"},
	}, st.GetLinks())
}

func TestBuild_FieldPolicy(t *testing.T) {
	table := createTestTable(t, "Project key,Issue key,Summary,Status,Custom field (Secret)\nIT,IT-1,x,Open,s3cret\n")

	t.Run("exclude", func(t *testing.T) {
		st, err := NewBuilder(Options{Policy: domain.FieldPolicy{Exclude: []string{"Secret", "Status"}}, Logger: zerolog.Nop()}).
			Build(context.Background(), table)
		require.NoError(t, err)
		issue, _ := st.GetIssue("IT-1")
		assert.Empty(t, issue.Status)
		assert.Empty(t, issue.Fields)
		assert.Equal(t, "x", issue.Summary)
	})

	t.Run("include keeps identity columns", func(t *testing.T) {
		st, err := NewBuilder(Options{Policy: domain.FieldPolicy{Include: []string{"Status"}}, Logger: zerolog.Nop()}).
			Build(context.Background(), table)
		require.NoError(t, err)
		issue, err := st.GetIssue("IT-1")
		require.NoError(t, err)
		assert.Equal(t, "Open", issue.Status)
		assert.Empty(t, issue.Summary)
	})
}
