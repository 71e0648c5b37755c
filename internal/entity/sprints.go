package entity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/jira"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// ErrSprintNotFound is returned when no issue references a sprint of that name.
var ErrSprintNotFound = errors.New("sprint not found")

// SprintFieldType is the custom field type of the agile sprint field.
const SprintFieldType = "com.pyxis.greenhopper.jira:gh-sprint"

// Searcher runs one page of a JQL search. *jira.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, req jira.SearchRequest) (jira.SearchResult, error)
}

// SprintResolver finds sprint objects by name through a live search and
// caches them for the rest of the job. It is safe for concurrent use.
type SprintResolver struct {
	search  Searcher
	fieldID string
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[string]domain.Sprint
}

// NewSprintResolver creates a resolver reading the sprint field fieldID.
func NewSprintResolver(search Searcher, fieldID string) *SprintResolver {
	return &SprintResolver{search: search, fieldID: fieldID, cache: make(map[string]domain.Sprint)}
}

// Resolve returns the most recent sprint called name: the one with the
// highest id among the sprints of an issue in that sprint.
func (r *SprintResolver) Resolve(ctx context.Context, name string) (domain.Sprint, error) {
	r.mu.RLock()
	s, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		res, err := r.search.Search(ctx, jira.SearchRequest{
			JQL:        fmt.Sprintf("sprint = %s", quoteJQL(name)),
			Fields:     []string{r.fieldID},
			MaxResults: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("search sprint %q: %w", name, err)
		}
		if len(res.Issues) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrSprintNotFound, name)
		}

		best, found := domain.Sprint{}, false
		for _, s := range ParseSprints(gjson.GetBytes(res.Issues[0], "fields."+gjsonEscape(r.fieldID))) {
			if s.Name == name && (!found || s.ID > best.ID) {
				best, found = s, true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrSprintNotFound, name)
		}

		r.mu.Lock()
		r.cache[name] = best
		r.mu.Unlock()
		return best, nil
	})
	if err != nil {
		return domain.Sprint{}, err
	}
	return v.(domain.Sprint), nil
}

// ParseSprints reads a sprint field value. Cloud returns objects; Server
// returns strings of the form "...Sprint@1a2b[id=3,rapidViewId=1,state=CLOSED,name=S1,...]".
func ParseSprints(field gjson.Result) []domain.Sprint {
	var sprints []domain.Sprint
	for _, v := range field.Array() {
		if v.IsObject() {
			sprints = append(sprints, domain.Sprint{
				ID:        int(v.Get("id").Int()),
				Name:      v.Get("name").String(),
				State:     strings.ToLower(v.Get("state").String()),
				BoardID:   int(v.Get("boardId").Int()),
				StartDate: v.Get("startDate").String(),
				EndDate:   v.Get("endDate").String(),
			})
			continue
		}
		if s, ok := parseLegacySprint(v.String()); ok {
			sprints = append(sprints, s)
		}
	}
	return sprints
}

var legacyAttr = regexp.MustCompile(`,(\w+)=`)

func parseLegacySprint(raw string) (domain.Sprint, bool) {
	open := strings.IndexByte(raw, '[')
	if open < 0 || !strings.HasSuffix(raw, "]") {
		return domain.Sprint{}, false
	}
	// Values run up to the next ",key=" so names may contain commas
	body := "," + raw[open+1:len(raw)-1]
	locs := legacyAttr.FindAllStringSubmatchIndex(body, -1)
	attrs := make(map[string]string, len(locs))
	for i, loc := range locs {
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		attrs[body[loc[2]:loc[3]]] = body[loc[1]:end]
	}
	id, err := strconv.Atoi(attrs["id"])
	if err != nil {
		return domain.Sprint{}, false
	}
	board, _ := strconv.Atoi(attrs["rapidViewId"])
	s := domain.Sprint{
		ID:        id,
		Name:      attrs["name"],
		State:     strings.ToLower(attrs["state"]),
		BoardID:   board,
		StartDate: nullable(attrs["startDate"]),
		EndDate:   nullable(attrs["endDate"]),
	}
	return s, true
}

func nullable(s string) string {
	if s == "<null>" {
		return ""
	}
	return s
}

// quoteJQL renders s as a JQL string literal.
func quoteJQL(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func gjsonEscape(path string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(path)
}
