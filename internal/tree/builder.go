// Package tree rebuilds the flat, reconciled export table into nested
// project and issue documents.
package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/entity"
	"github.com/h0rv/jex/internal/fetch"
	"github.com/h0rv/jex/internal/schema"
	"github.com/h0rv/jex/internal/store"
	"github.com/h0rv/jex/internal/workpool"
	"github.com/rs/zerolog"
)

// UserResolver turns a user cell into a reference.
type UserResolver interface {
	Ref(name string) *domain.UserRef
}

// SprintResolver finds a sprint by name.
type SprintResolver interface {
	Resolve(ctx context.Context, name string) (domain.Sprint, error)
}

// Catalog returns the remote catalog of a project.
type Catalog interface {
	Lookup(ctx context.Context, projectKey string) (fetch.ProjectInfo, error)
}

// HistorySource returns the change history of one issue.
type HistorySource interface {
	ForIssue(ctx context.Context, issueKey string) ([]domain.HistoryRecord, error)
}

// Options configures a Builder. Optional collaborators may be nil.
type Options struct {
	DateFormat string
	Policy     domain.FieldPolicy
	Templates  Templates
	// Fields holds the resolved descriptors of custom field headers.
	// Custom columns missing from it are kept as passthrough values.
	Fields  map[string]domain.FieldDescriptor
	Users   UserResolver
	Sprints SprintResolver
	Catalog Catalog
	History HistorySource
	Workers int
	Logger  zerolog.Logger
}

// Builder converts a reconciled table into documents.
type Builder struct {
	opts  Options
	dates *DateParser
	log   zerolog.Logger

	sprints  map[string]domain.Sprint
	warnedAt map[string]bool
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Builder{
		opts:     opts,
		dates:    NewDateParser(opts.DateFormat),
		log:      opts.Logger.With().Str("component", "tree").Logger(),
		sprints:  make(map[string]domain.Sprint),
		warnedAt: make(map[string]bool),
	}
}

// Dates returns the parser used for date cells, so callers can learn the
// detected layout.
func (b *Builder) Dates() *DateParser {
	return b.dates
}

// Build classifies the table columns once and streams every row into a
// document store. Links, sprint lookups and histories are resolved in
// passes around the row loop.
func (b *Builder) Build(ctx context.Context, table *schema.Table) (*store.Store, error) {
	cols, err := schema.Classify(table.Header)
	if err != nil {
		return nil, err
	}
	cols = b.applyPolicy(cols)

	if err := b.resolveSprints(ctx, cols, table.Rows); err != nil {
		return nil, err
	}

	st := store.New()
	for i, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.addRow(ctx, st, cols, row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
	}

	st.AddLinks(entity.CollectLinks(cols, table.Rows)...)
	st.AddLinks(entity.SubtaskLinks(st)...)

	if b.opts.History != nil {
		if err := b.attachHistory(ctx, st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// applyPolicy drops the columns the field policy excludes. Columns that
// identify a row or its project always survive.
func (b *Builder) applyPolicy(cols []schema.Column) []schema.Column {
	kept := cols[:0:0]
	for _, c := range cols {
		switch c.Kind {
		case schema.KindProjectKey, schema.KindIssueKey, schema.KindIssueID, schema.KindParentID:
			kept = append(kept, c)
			continue
		}
		if b.opts.Policy.Allows(c.Name) {
			kept = append(kept, c)
		}
	}
	return kept
}

// resolveSprints looks up every distinct sprint name on the worker pool
// before the row loop reads them.
func (b *Builder) resolveSprints(ctx context.Context, cols []schema.Column, rows [][]schema.Cell) error {
	if b.opts.Sprints == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, row := range rows {
		for _, c := range cols {
			if c.Kind != schema.KindSprint {
				continue
			}
			if v := row[c.Index]; v.Valid && v.Value != "" && !seen[v.Value] {
				seen[v.Value] = true
				names = append(names, v.Value)
			}
		}
	}

	type found struct {
		sprint domain.Sprint
		ok     bool
	}
	results, err := workpool.Map(ctx, b.opts.Workers, names, func(ctx context.Context, name string) (found, error) {
		s, err := b.opts.Sprints.Resolve(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return found{}, ctx.Err()
			}
			b.log.Warn().Err(err).Str("sprint", name).Msg("unresolved sprint; keeping its name")
			return found{}, nil
		}
		return found{sprint: s, ok: true}, nil
	})
	if err != nil {
		return err
	}
	for i, name := range names {
		if results[i].ok {
			b.sprints[name] = results[i].sprint
		}
	}
	return nil
}

func (b *Builder) addRow(ctx context.Context, st *store.Store, cols []schema.Column, row []schema.Cell) error {
	issue := &domain.IssueDocument{}
	project := map[string]string{}

	for _, c := range cols {
		cell := row[c.Index]
		if !cell.Valid {
			continue
		}
		if c.Kind == schema.KindProject {
			project[c.Field] = cell.Value
			continue
		}
		if err := b.dispatch(issue, c, cell.Value); err != nil {
			return err
		}
	}

	if issue.ProjectKey == "" {
		return fmt.Errorf("%w: issue %q has no project key", schema.ErrMissingColumn, issue.Key)
	}
	st.EnsureProject(issue.ProjectKey, func(p *domain.ProjectDocument) {
		b.initProject(ctx, p, project)
	})
	if err := st.AddIssue(issue); err != nil {
		if errors.Is(err, store.ErrDuplicateIssue) {
			b.log.Warn().Str("issue", issue.Key).Msg("skipping repeated issue row")
			return nil
		}
		return err
	}
	return nil
}

// initProject enriches a project on first encounter.
func (b *Builder) initProject(ctx context.Context, p *domain.ProjectDocument, attrs map[string]string) {
	p.Name = attrs["name"]
	p.Type = attrs["type"]
	p.Lead = attrs["lead"]
	p.Description = attrs["description"]
	p.URL = attrs["url"]

	if tpl, ok := b.opts.Templates.For(p.Key, p.Type); ok {
		p.Template = tpl.Template
		p.Workflow = tpl.Workflow
	}

	if b.opts.Catalog != nil {
		info, err := b.opts.Catalog.Lookup(ctx, p.Key)
		if err != nil {
			b.log.Warn().Err(err).Str("project", p.Key).Msg("cannot load project catalog")
			return
		}
		p.Components = info.Components
		p.Versions = info.Versions
	}
}

// dispatch routes one non-null cell to the handler of its column kind.
func (b *Builder) dispatch(issue *domain.IssueDocument, c schema.Column, v string) error {
	switch c.Kind {
	case schema.KindProjectKey:
		issue.ProjectKey = v
	case schema.KindIssueKey:
		issue.Key = v
	case schema.KindIssueID:
		issue.ExternalID = v
	case schema.KindParentID:
		if issue.ParentID == "" {
			issue.ParentID = v
		}
	case schema.KindSummary:
		issue.Summary = v
	case schema.KindSystem:
		setSystem(issue, c.Field, v)
	case schema.KindUser:
		ref := b.userRef(v)
		switch c.Field {
		case "reporter":
			issue.Reporter = ref
		case "assignee":
			issue.Assignee = ref
		case "creator":
			issue.Creator = ref
		}
	case schema.KindDate:
		if v == "" {
			return nil
		}
		d, err := b.dates.Normalize(v)
		if err != nil {
			return fmt.Errorf("column %q: %w", c.Name, err)
		}
		setDate(issue, c.Field, d)
	case schema.KindLabel:
		issue.Labels = appendNonEmpty(issue.Labels, v)
	case schema.KindComponent:
		issue.Components = appendNonEmpty(issue.Components, v)
	case schema.KindFixVersion:
		issue.FixedVersions = appendNonEmpty(issue.FixedVersions, v)
	case schema.KindAffectedVersion:
		issue.AffectedVersions = appendNonEmpty(issue.AffectedVersions, v)
	case schema.KindWatcher:
		issue.Watchers = appendNonEmpty(issue.Watchers, v)
	case schema.KindSprint:
		if v == "" {
			return nil
		}
		s, ok := b.sprints[v]
		if !ok {
			s = domain.Sprint{Name: v}
		}
		issue.Sprints = append(issue.Sprints, s)
	case schema.KindComment:
		if v == "" {
			return nil
		}
		cm := parseComment(v)
		if err := b.normalizeDate(&cm.Created, c.Name); err != nil {
			return err
		}
		issue.Comments = append(issue.Comments, cm)
	case schema.KindAttachment:
		if v == "" {
			return nil
		}
		a := parseAttachment(v)
		if err := b.normalizeDate(&a.Created, c.Name); err != nil {
			return err
		}
		issue.Attachments = append(issue.Attachments, a)
	case schema.KindWorklog:
		if v == "" {
			return nil
		}
		w := parseWorklog(v)
		if err := b.normalizeDate(&w.StartDate, c.Name); err != nil {
			return err
		}
		if iso, ok, err := NormalizeDuration(w.TimeSpent); err == nil && ok {
			w.TimeSpent = iso
		}
		issue.Worklogs = append(issue.Worklogs, w)
	case schema.KindEstimate:
		iso, ok, err := NormalizeDuration(v)
		if err != nil {
			b.log.Warn().Err(err).Str("issue", issue.Key).Str("column", c.Name).Msg("keeping unparsable duration")
			setPassthrough(issue, c, v)
			return nil
		}
		if ok {
			setEstimate(issue, c.Field, iso)
		}
	case schema.KindCustom:
		b.setCustom(issue, c, v)
	case schema.KindInwardLink, schema.KindOutwardLink:
		// Consumed by the link pass
	default:
		setPassthrough(issue, c, v)
	}
	return nil
}

// normalizeDate rewrites a date embedded in a delimited cell. Cells without
// a date keep the empty value.
func (b *Builder) normalizeDate(v *string, column string) error {
	if *v == "" {
		return nil
	}
	d, err := b.dates.Normalize(*v)
	if err != nil {
		return fmt.Errorf("column %q: %w", column, err)
	}
	*v = d
	return nil
}

func (b *Builder) userRef(name string) *domain.UserRef {
	if b.opts.Users == nil {
		if name == "" {
			return nil
		}
		return &domain.UserRef{Name: name}
	}
	ref := b.opts.Users.Ref(name)
	if ref != nil && len(ref.Candidates) > 0 && !b.warnedAt[name] {
		b.warnedAt[name] = true
		b.log.Warn().Str("user", name).Strs("candidates", ref.Candidates).Msg("ambiguous display name; add a user override")
	}
	return ref
}

// setCustom merges a custom field value. Repeated columns of a multi-valued
// field accumulate into one list keyed by display name.
func (b *Builder) setCustom(issue *domain.IssueDocument, c schema.Column, v string) {
	fd, ok := b.opts.Fields[c.Name]
	if !ok {
		setPassthrough(issue, c, v)
		return
	}
	if v == "" {
		return
	}

	for i := range issue.CustomFields {
		cf := &issue.CustomFields[i]
		if cf.FieldName != fd.DisplayName {
			continue
		}
		// A repeated column means several values even for types not known to be multi-valued
		switch old := cf.Value.(type) {
		case []string:
			cf.Value = append(old, v)
		case string:
			cf.Value = []string{old, v}
		}
		return
	}

	cf := domain.CustomFieldValue{FieldName: fd.DisplayName, FieldID: fd.InternalID, FieldType: fd.CustomType, Value: v}
	if fd.IsMultiValued() {
		cf.Value = []string{v}
	}
	issue.CustomFields = append(issue.CustomFields, cf)
}

// attachHistory fetches every issue's history on the worker pool, then
// assigns the results after all fetches have finished.
func (b *Builder) attachHistory(ctx context.Context, st *store.Store) error {
	issues := st.GetAllIssues()
	histories, err := workpool.Map(ctx, b.opts.Workers, issues, func(ctx context.Context, issue *domain.IssueDocument) ([]domain.HistoryRecord, error) {
		records, err := b.opts.History.ForIssue(ctx, issue.Key)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			b.log.Warn().Err(err).Str("issue", issue.Key).Msg("cannot load history")
			return nil, nil
		}
		return records, nil
	})
	if err != nil {
		return err
	}
	for i, issue := range issues {
		issue.History = histories[i]
	}
	return nil
}

func setSystem(issue *domain.IssueDocument, field, v string) {
	switch field {
	case "issueType":
		issue.IssueType = v
	case "status":
		issue.Status = v
	case "priority":
		issue.Priority = v
	case "resolution":
		issue.Resolution = v
	case "description":
		issue.Description = v
	case "environment":
		issue.Environment = v
	}
}

func setDate(issue *domain.IssueDocument, field, v string) {
	switch field {
	case "created":
		issue.Created = v
	case "updated":
		issue.Updated = v
	case "resolutionDate":
		issue.ResolutionDate = v
	case "duedate":
		issue.DueDate = v
	}
}

func setEstimate(issue *domain.IssueDocument, field, v string) {
	switch field {
	case "originalEstimate":
		issue.OriginalEstimate = v
	case "estimate":
		issue.Estimate = v
	case "timeSpent":
		issue.TimeSpent = v
	}
}

// setPassthrough keeps a value under its header. Repeated headers get a
// 1-based occurrence suffix from the second occurrence on.
func setPassthrough(issue *domain.IssueDocument, c schema.Column, v string) {
	if v == "" {
		return
	}
	if issue.Fields == nil {
		issue.Fields = make(map[string]string)
	}
	key := c.Name
	if c.Occurrence > 0 {
		key = fmt.Sprintf("%s (%d)", c.Name, c.Occurrence+1)
	}
	issue.Fields[key] = v
}

func appendNonEmpty(list []string, v string) []string {
	if v == "" {
		return list
	}
	return append(list, v)
}
