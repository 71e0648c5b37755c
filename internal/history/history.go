// Package history extracts per-field change records from issue changelogs
// with the same checkpoint and resume discipline as the issue export.
package history

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/h0rv/jex/internal/checkpoint"
	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/fetch"
	"github.com/h0rv/jex/internal/jira"
	"github.com/h0rv/jex/internal/paginate"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// JobKey names the history checkpoint.
const JobKey = "history"

// Source is the remote side of an extraction. *jira.Client satisfies it.
type Source interface {
	Search(ctx context.Context, req jira.SearchRequest) (jira.SearchResult, error)
	IssueChangelog(ctx context.Context, key string) (json.RawMessage, error)
	TokenPaging() bool
}

// Options configures an Extractor.
type Options struct {
	Query    string
	Field    string // Only changes of this field are kept; empty keeps all
	PageSize int
	Dir      string // Checkpoint directory
	Prompter paginate.Prompter
	Retrier  *fetch.Retrier
	Logger   zerolog.Logger
}

// Extractor produces HistoryRecords for the issues matching a query.
type Extractor struct {
	src  Source
	opts Options
	log  zerolog.Logger
}

// New creates an Extractor.
func New(src Source, opts Options) *Extractor {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Retrier == nil {
		opts.Retrier = &fetch.Retrier{Logger: opts.Logger}
	}
	return &Extractor{src: src, opts: opts, log: opts.Logger.With().Str("component", "history").Logger()}
}

// Job is one checkpointed extraction run.
type Job struct {
	x       *Extractor
	manager *paginate.Manager
}

// Start loads or creates the history checkpoint. It reports whether an
// earlier run is being resumed.
func (x *Extractor) Start() (*Job, bool, error) {
	kind := paginate.KindOffset
	if x.src.TokenPaging() {
		kind = paginate.KindToken
	}
	m := paginate.NewManager(checkpoint.New(x.opts.Dir, JobKey, x.opts.Logger), paginate.Options{
		Key:      JobKey,
		Query:    x.queryKey(),
		Kind:     kind,
		PageSize: x.opts.PageSize,
		Prompter: x.opts.Prompter,
		Logger:   x.opts.Logger,
	})
	resumed, err := m.Begin()
	if err != nil {
		return nil, false, err
	}
	return &Job{x: x, manager: m}, resumed, nil
}

// queryKey identifies the job in its checkpoint. The field filter is part
// of it because it changes which records were saved.
func (x *Extractor) queryKey() string {
	if x.opts.Field == "" {
		return x.opts.Query
	}
	return x.opts.Query + " | field=" + x.opts.Field
}

// Records pages through the query and returns every record, including the
// ones restored from a resumed checkpoint.
func (j *Job) Records(ctx context.Context) ([]domain.HistoryRecord, error) {
	retrier := *j.x.opts.Retrier
	retrier.OnRetry = j.manager.MarkRetry

	results, err := j.manager.Run(ctx, func(ctx context.Context, c paginate.Cursor) (paginate.Page, error) {
		var res jira.SearchResult
		err := retrier.Do(ctx, c.String(), func() error {
			var err error
			res, err = j.x.src.Search(ctx, jira.SearchRequest{
				JQL:        j.x.opts.Query,
				Fields:     []string{"summary"},
				Expand:     []string{"changelog"},
				MaxResults: c.PageSize(),
				StartAt:    c.Offset(),
				PageToken:  c.Token(),
			})
			return err
		})
		if err != nil {
			return paginate.Page{}, err
		}

		page := paginate.Page{Info: paginate.PageInfo{Rows: len(res.Issues), Total: res.Total, NextToken: res.NextPageToken}}
		for _, raw := range res.Issues {
			records, err := j.x.issueRecords(ctx, raw)
			if err != nil {
				return paginate.Page{}, err
			}
			for _, r := range records {
				encoded, err := json.Marshal(r)
				if err != nil {
					return paginate.Page{}, fmt.Errorf("encode history record: %w", err)
				}
				page.Results = append(page.Results, encoded)
			}
		}
		return page, nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]domain.HistoryRecord, 0, len(results))
	for _, raw := range results {
		var r domain.HistoryRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode history record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// Complete deletes the checkpoint. Call it after the output is written.
func (j *Job) Complete() error {
	return j.manager.Complete()
}

// issueRecords extracts the records of one search hit. A changelog the
// search truncated is fetched again in full.
func (x *Extractor) issueRecords(ctx context.Context, raw json.RawMessage) ([]domain.HistoryRecord, error) {
	issue := gjson.ParseBytes(raw)
	total := issue.Get("changelog.total")
	if total.Exists() && int(total.Int()) > len(issue.Get("changelog.histories").Array()) {
		key := issue.Get("key").String()
		var full json.RawMessage
		err := x.opts.Retrier.Do(ctx, key, func() error {
			var err error
			full, err = x.src.IssueChangelog(ctx, key)
			return err
		})
		if err != nil {
			return nil, err
		}
		issue = gjson.ParseBytes(full)
	}
	return Extract(issue, x.opts.Field), nil
}

// ForIssue returns the change history of one issue.
func (x *Extractor) ForIssue(ctx context.Context, key string) ([]domain.HistoryRecord, error) {
	var raw json.RawMessage
	err := x.opts.Retrier.Do(ctx, key, func() error {
		var err error
		raw, err = x.src.IssueChangelog(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return Extract(gjson.ParseBytes(raw), x.opts.Field), nil
}

// Extract returns one record per changed field per history entry of an
// issue, in changelog order. field filters by field name, case-insensitively.
func Extract(issue gjson.Result, field string) []domain.HistoryRecord {
	var records []domain.HistoryRecord
	key := issue.Get("key").String()
	id := issue.Get("id").String()
	summary := issue.Get("fields.summary").String()

	for _, h := range issue.Get("changelog.histories").Array() {
		author := h.Get("author.displayName").String()
		if author == "" {
			author = h.Get("author.name").String()
		}
		for _, item := range h.Get("items").Array() {
			name := item.Get("field").String()
			if field != "" && !strings.EqualFold(name, field) {
				continue
			}
			records = append(records, domain.HistoryRecord{
				IssueKey:   key,
				IssueID:    id,
				Summary:    summary,
				HistoryID:  h.Get("id").String(),
				Author:     author,
				Created:    h.Get("created").String(),
				Field:      name,
				FieldType:  item.Get("fieldtype").String(),
				From:       item.Get("from").String(),
				FromString: item.Get("fromString").String(),
				To:         item.Get("to").String(),
				ToString:   item.Get("toString").String(),
			})
		}
	}
	return records
}

// WriteCSV writes records under the HistoryColumns header.
func WriteCSV(w io.Writer, records []domain.HistoryRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(domain.HistoryColumns); err != nil {
		return fmt.Errorf("write history header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.Row()); err != nil {
			return fmt.Errorf("write history row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
