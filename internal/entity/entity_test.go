package entity

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/h0rv/jex/internal/cache"
	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/jira"
	"github.com/h0rv/jex/internal/schema"
	"github.com/h0rv/jex/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func createTestUsers() []domain.User {
	return []domain.User{
		{AccountID: "a1", DisplayName: "Ann Lee", Active: true},
		{AccountID: "b2", DisplayName: "Sam Roe", Active: true},
		{AccountID: "b1", DisplayName: "Sam Roe", Active: false},
	}
}

func TestDirectory_Resolve(t *testing.T) {
	d := NewDirectory(createTestUsers(), nil)

	t.Run("unique", func(t *testing.T) {
		id, err := d.Resolve("Ann Lee")
		require.NoError(t, err)
		assert.Equal(t, "a1", id)
	})

	t.Run("ambiguous lists every candidate", func(t *testing.T) {
		_, err := d.Resolve("Sam Roe")
		var ambiguous *AmbiguousUserError
		require.True(t, errors.As(err, &ambiguous))
		assert.Equal(t, []string{"b1", "b2"}, ambiguous.Candidates)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := d.Resolve("Nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("account id resolves to itself", func(t *testing.T) {
		id, err := d.Resolve("b2")
		require.NoError(t, err)
		assert.Equal(t, "b2", id)
	})
}

func TestDirectory_OverrideDisambiguates(t *testing.T) {
	d := NewDirectory(createTestUsers(), map[string]string{"Sam Roe": "b2"})
	for i := 0; i < 10; i++ {
		id, err := d.Resolve("Sam Roe")
		require.NoError(t, err)
		assert.Equal(t, "b2", id)
	}
}

func TestDirectory_Ref(t *testing.T) {
	d := NewDirectory(createTestUsers(), nil)

	assert.Nil(t, d.Ref(""))
	assert.Equal(t, &domain.UserRef{Name: "Ann Lee", AccountID: "a1"}, d.Ref("Ann Lee"))
	assert.Equal(t, &domain.UserRef{Name: "Sam Roe", Candidates: []string{"b1", "b2"}}, d.Ref("Sam Roe"))
	assert.Equal(t, &domain.UserRef{Name: "Ghost"}, d.Ref("Ghost"))
}

type stubUsers struct {
	users []domain.User
	calls atomic.Int32
}

func (s *stubUsers) AllUsers(context.Context) ([]domain.User, error) {
	s.calls.Add(1)
	return s.users, nil
}

func TestLoadDirectory_UsesCache(t *testing.T) {
	c := cache.Open(filepath.Join(t.TempDir(), "cache.json"), time.Hour, zerolog.Nop())
	src := &stubUsers{users: createTestUsers()}

	_, err := LoadDirectory(context.Background(), src, c, "https://x", nil, zerolog.Nop())
	require.NoError(t, err)
	d, err := LoadDirectory(context.Background(), src, c, "https://x", nil, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Len(t, d.Users(), 3)
}

type stubGroups map[string][]string

func (s stubGroups) UserGroups(_ context.Context, id string) ([]string, error) {
	if g, ok := s[id]; ok {
		return g, nil
	}
	return nil, errors.New("404")
}

func TestWithGroups(t *testing.T) {
	users, err := WithGroups(context.Background(), stubGroups{"a1": {"devs"}, "b2": {"ops"}}, createTestUsers(), 2, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"devs"}, users[0].Groups)
	assert.Equal(t, []string{"ops"}, users[1].Groups)
	assert.Empty(t, users[2].Groups, "a failed lookup leaves the user without groups")
}

// stubSearch returns canned issues for sprint searches.
type stubSearch struct {
	issue string
	calls atomic.Int32
	jql   []string
}

func (s *stubSearch) Search(_ context.Context, req jira.SearchRequest) (jira.SearchResult, error) {
	s.calls.Add(1)
	s.jql = append(s.jql, req.JQL)
	if s.issue == "" {
		return jira.SearchResult{}, nil
	}
	return jira.SearchResult{Issues: []json.RawMessage{json.RawMessage(s.issue)}}, nil
}

func TestSprintResolver_PicksHighestID(t *testing.T) {
	src := &stubSearch{issue: `{"key":"IT-1","fields":{"customfield_10020":[
		{"id":3,"name":"Sprint 1","state":"closed","boardId":1},
		{"id":9,"name":"Sprint 1","state":"active","boardId":2},
		{"id":12,"name":"Sprint 2","state":"future","boardId":1}
	]}}`}
	r := NewSprintResolver(src, "customfield_10020")

	s, err := r.Resolve(context.Background(), "Sprint 1")
	require.NoError(t, err)
	assert.Equal(t, 9, s.ID)
	assert.Equal(t, "active", s.State)
	assert.Equal(t, `sprint = "Sprint 1"`, src.jql[0])

	_, err = r.Resolve(context.Background(), "Sprint 1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load(), "resolved sprints are cached")
}

func TestSprintResolver_NotFound(t *testing.T) {
	r := NewSprintResolver(&stubSearch{}, "customfield_10020")
	_, err := r.Resolve(context.Background(), "Ghost")
	assert.ErrorIs(t, err, ErrSprintNotFound)
}

func TestParseSprints_Legacy(t *testing.T) {
	field := gjson.Parse(`["com.atlassian.greenhopper.service.sprint.Sprint@1f2e[id=14,rapidViewId=3,state=CLOSED,name=Sprint 7, hotfix,startDate=2024-01-01T09:00:00.000Z,endDate=<null>,sequence=14]"]`)

	sprints := ParseSprints(field)
	require.Len(t, sprints, 1)
	assert.Equal(t, domain.Sprint{
		ID: 14, Name: "Sprint 7, hotfix", State: "closed", BoardID: 3,
		StartDate: "2024-01-01T09:00:00.000Z",
	}, sprints[0])
}

func TestQuoteJQL(t *testing.T) {
	assert.Equal(t, `"a \"b\" c\\d"`, quoteJQL(`a "b" c\d`))
}

func TestCollectLinks(t *testing.T) {
	cols, err := schema.Classify([]string{
		"Issue key", "Issue id", "Project key", "Inward issue link (Blocks)", "Outward issue link (Relates)",
	})
	require.NoError(t, err)
	rows := [][]schema.Cell{
		{schema.Str("IT-2"), schema.Str("10002"), schema.Str("IT"), schema.Str("IT-1"), schema.Str("IT-3")},
		{schema.Str("IT-4"), schema.Str("10004"), schema.Str("IT"), schema.Null, schema.Str("10001")},
	}

	links := CollectLinks(cols, rows)
	assert.Equal(t, []domain.Link{
		{Name: "Blocks", SourceID: "IT-1", DestinationID: "IT-2"},
		{Name: "Relates", SourceID: "IT-2", DestinationID: "IT-3"},
		{Name: "Relates", SourceID: "10004", DestinationID: "10001"},
	}, links)
}

func TestSubtaskLinks(t *testing.T) {
	st := store.New()
	st.EnsureProject("IT", nil)
	require.NoError(t, st.AddIssue(&domain.IssueDocument{Key: "IT-1", ExternalID: "10001", ProjectKey: "IT"}))
	require.NoError(t, st.AddIssue(&domain.IssueDocument{Key: "IT-2", ExternalID: "10002", ProjectKey: "IT", ParentID: "10001"}))
	require.NoError(t, st.AddIssue(&domain.IssueDocument{Key: "IT-3", ExternalID: "10003", ProjectKey: "IT", ParentID: "99999"}))

	links := SubtaskLinks(st)
	assert.Equal(t, []domain.Link{
		{Name: domain.SubtaskLinkName, SourceID: "IT-1", DestinationID: "IT-2"},
		{Name: domain.SubtaskLinkName, SourceID: "", DestinationID: "IT-3"},
	}, links)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Sam Roe: b2\n\"Ann Lee\": a1\n"), 0o644))

	overrides, err := LoadOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Sam Roe": "b2", "Ann Lee": "a1"}, overrides)

	id, err := NewDirectory(createTestUsers(), overrides).Resolve("Sam Roe")
	require.NoError(t, err)
	assert.Equal(t, "b2", id)
}

func TestLoadOverrides_Missing(t *testing.T) {
	_, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
