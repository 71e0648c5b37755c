package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/h0rv/jex/internal/cache"
	"github.com/h0rv/jex/internal/checkpoint"
	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/entity"
	"github.com/h0rv/jex/internal/fetch"
	"github.com/h0rv/jex/internal/fields"
	"github.com/h0rv/jex/internal/history"
	"github.com/h0rv/jex/internal/paginate"
	"github.com/h0rv/jex/internal/schema"
	"github.com/h0rv/jex/internal/tree"
	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
)

// JobKey names the export checkpoint and prefixes its page files.
const JobKey = "export"

// Remote is everything an export asks of the Jira instance.
// *jira.Client satisfies it.
type Remote interface {
	CheckAuth(ctx context.Context) error
	BaseURL() string
	fetch.PageSource
	fetch.CatalogSource
	fields.Source
	entity.UserSource
	entity.GroupSource
	history.Source
}

// Options are the per-process settings shared by every job.
type Options struct {
	WorkDir     string
	Workers     int
	Cache       *cache.Cache // May be nil
	Prompter    paginate.Prompter
	MaxAttempts int
	NewBackOff  func() backoff.BackOff
	// BuildTimeout bounds the JSON build, including its fan-out lookups.
	// Zero, the default, means no bound.
	BuildTimeout time.Duration
	Logger       zerolog.Logger
}

// Result summarizes a finished export.
type Result struct {
	Output   string
	Resumed  bool
	Pages    int
	Rows     int
	Projects int // Zero for CSV exports
	Issues   int
}

// Exporter runs export jobs against one Jira instance.
type Exporter struct {
	remote Remote
	opts   Options
	log    zerolog.Logger
}

// New creates an Exporter.
func New(remote Remote, opts Options) *Exporter {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Exporter{
		remote: remote,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "export").Logger(),
	}
}

// Run executes job. Page files live as long as the checkpoint that lists
// them: an interrupted or failed run keeps both for a later resume, and a
// completed or discarded run removes both. The output file is written
// atomically, so a failure never leaves a partial export behind.
func (e *Exporter) Run(ctx context.Context, job Job) (Result, error) {
	if err := job.Validate(); err != nil {
		return Result{}, err
	}
	if err := e.remote.CheckAuth(ctx); err != nil {
		return Result{}, err
	}

	manager := paginate.NewManager(checkpoint.New(e.opts.WorkDir, JobKey, e.opts.Logger), paginate.Options{
		Key:      JobKey,
		Query:    job.Query,
		Kind:     paginate.KindOffset,
		PageSize: job.PageSize,
		Prompter: e.opts.Prompter,
		OnDiscard: func(cp *checkpoint.Checkpoint) error {
			return fetch.RemovePages(e.opts.WorkDir, cp.DataBlock)
		},
		Logger: e.opts.Logger,
	})
	resumed, err := manager.Begin()
	if err != nil {
		return Result{}, err
	}

	fetcher := fetch.New(e.remote, fetch.Options{
		Dir:         e.opts.WorkDir,
		Kind:        JobKey,
		Query:       job.Query,
		MaxAttempts: e.opts.MaxAttempts,
		NewBackOff:  e.opts.NewBackOff,
		OnRetry:     manager.MarkRetry,
		Logger:      e.opts.Logger,
	})
	results, err := manager.Run(ctx, fetcher.Step)
	if err != nil {
		return Result{}, err
	}

	pages, err := fetch.PageFiles(e.opts.WorkDir, results)
	if err != nil {
		return Result{}, err
	}
	table, err := schema.ReconcileFiles(pages)
	if err != nil {
		return Result{}, err
	}
	e.log.Info().Int("pages", len(pages)).Int("rows", len(table.Rows)).Int("columns", len(table.Header)).Msg("pages reconciled")

	res := Result{Output: job.Output, Resumed: resumed, Pages: len(pages), Rows: len(table.Rows)}

	var data []byte
	switch job.Format {
	case domain.FormatCSV:
		data, err = e.renderCSV(table, job.Policy)
	default:
		data, err = e.renderJSON(ctx, table, job, &res)
	}
	if err != nil {
		return Result{}, err
	}

	if err := atomic.WriteFile(job.Output, bytes.NewReader(data)); err != nil {
		return Result{}, fmt.Errorf("write export %s: %w", job.Output, err)
	}

	if err := fetch.RemovePages(e.opts.WorkDir, results); err != nil {
		e.log.Warn().Err(err).Msg("cannot remove page files")
	}
	if err := manager.Complete(); err != nil {
		return Result{}, err
	}
	e.log.Info().Str("output", job.Output).Int("rows", res.Rows).Msg("export complete")
	return res, nil
}

// renderCSV applies the field policy to the reconciled table.
func (e *Exporter) renderCSV(table *schema.Table, policy domain.FieldPolicy) ([]byte, error) {
	if len(table.Header) == 0 {
		return []byte{}, nil
	}
	keep := make([]int, 0, len(table.Header))
	for i, name := range table.Header {
		if policy.Allows(name) {
			keep = append(keep, i)
		}
	}

	var buf bytes.Buffer
	if err := table.Select(keep).WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	return buf.Bytes(), nil
}

// renderJSON resolves the entities the table refers to and builds the
// document tree.
func (e *Exporter) renderJSON(ctx context.Context, table *schema.Table, job Job, res *Result) ([]byte, error) {
	if e.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.BuildTimeout)
		defer cancel()
	}
	// A query matching no issues exports no columns at all
	if len(table.Header) == 0 && len(table.Rows) == 0 {
		e.log.Info().Msg("query matched no issues")
		return encodeDocument(&domain.ExportDocument{})
	}
	instance := e.remote.BaseURL()

	resolver := fields.NewResolver(e.remote, e.opts.Cache, instance, e.opts.Workers, e.opts.Logger)
	cols, err := schema.Classify(table.Header)
	if err != nil {
		return nil, err
	}
	descriptors, err := resolver.ResolveAll(ctx, fieldHeaders(cols))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resolver.Persist(); err != nil {
			e.log.Warn().Err(err).Msg("cannot cache field descriptors")
		}
	}()

	directory, err := entity.LoadDirectory(ctx, e.remote, e.opts.Cache, instance, job.UserOverrides, e.opts.Logger)
	if err != nil {
		return nil, err
	}

	opts := tree.Options{
		DateFormat: job.DateFormat,
		Policy:     job.Policy,
		Fields:     descriptors,
		Users:      directory,
		Catalog:    fetch.NewProjectCatalog(e.remote),
		Workers:    e.opts.Workers,
		Logger:     e.opts.Logger,
	}
	if fieldID := sprintFieldID(descriptors); fieldID != "" {
		opts.Sprints = entity.NewSprintResolver(e.remote, fieldID)
	}
	if job.TemplatesFile != "" {
		if opts.Templates, err = tree.LoadTemplates(job.TemplatesFile); err != nil {
			return nil, err
		}
	}
	if job.WithHistory {
		opts.History = history.New(e.remote, history.Options{
			Field:   job.HistoryField,
			Retrier: &fetch.Retrier{MaxAttempts: e.opts.MaxAttempts, NewBackOff: e.opts.NewBackOff, Logger: e.log},
			Logger:  e.opts.Logger,
		})
	}

	builder := tree.NewBuilder(opts)
	st, err := builder.Build(ctx, table)
	if err != nil {
		return nil, err
	}
	if layout := builder.Dates().Detected(); layout != "" {
		e.log.Debug().Str("layout", layout).Msg("date layout detected")
	}

	if job.WithUsers {
		users, err := entity.WithGroups(ctx, e.remote, directory.Users(), e.opts.Workers, e.opts.Logger)
		if err != nil {
			return nil, err
		}
		st.SetUsers(users)
	}

	res.Projects = len(st.GetProjects())
	res.Issues = len(st.GetAllIssues())

	return encodeDocument(st.Document())
}

func encodeDocument(doc *domain.ExportDocument) ([]byte, error) {
	if doc.Projects == nil {
		doc.Projects = []*domain.ProjectDocument{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export document: %w", err)
	}
	return append(data, '\n'), nil
}

// fieldHeaders returns the headers backed by custom fields. The sprint
// column is one even when its header carries no "Custom field" prefix.
func fieldHeaders(cols []schema.Column) []string {
	var out []string
	for _, c := range cols {
		if c.Kind == schema.KindCustom || c.Kind == schema.KindSprint {
			out = append(out, c.Name)
		}
	}
	return out
}

// sprintFieldID returns the id of the sprint custom field, if the export
// has one.
func sprintFieldID(descriptors map[string]domain.FieldDescriptor) string {
	for _, d := range descriptors {
		if d.CustomType == entity.SprintFieldType {
			return d.InternalID
		}
	}
	return ""
}
