// Package fetch retrieves export pages from Jira, stores each page as a CSV
// file under the job work directory and retries transient failures.
package fetch

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/h0rv/jex/internal/paginate"
	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
)

// PageSource is the remote side of an export: a total count and CSV pages.
// *jira.Client satisfies it.
type PageSource interface {
	SearchTotal(ctx context.Context, jql string) (int, error)
	ExportCSV(ctx context.Context, jql string, start, max int) ([]byte, error)
}

// Options configures a Fetcher.
type Options struct {
	Dir         string // Work directory page files are written to
	Kind        string // Page file name prefix, e.g. "export"
	Query       string
	MaxAttempts int
	// NewBackOff returns a fresh retry schedule for each page.
	// Defaults to exponential backoff capped at one minute between attempts.
	NewBackOff func() backoff.BackOff
	// OnRetry is told about every failed attempt that will be retried.
	OnRetry func(attempt int, err error)
	Logger  zerolog.Logger
}

// Fetcher turns cursor positions into page files.
type Fetcher struct {
	source  PageSource
	opts    Options
	log     zerolog.Logger
	retrier *Retrier
	total   int
}

// New creates a Fetcher reading from source.
func New(source PageSource, opts Options) *Fetcher {
	if opts.Kind == "" {
		opts.Kind = "export"
	}
	log := opts.Logger.With().Str("component", "fetch").Logger()
	return &Fetcher{
		source:  source,
		opts:    opts,
		log:     log,
		retrier: &Retrier{MaxAttempts: opts.MaxAttempts, NewBackOff: opts.NewBackOff, OnRetry: opts.OnRetry, Logger: log},
		total:   -1,
	}
}

// Step fetches the page at the cursor position and writes it to a page file.
// The page result is the page file name; an empty page produces no file.
// It satisfies paginate.Step.
func (f *Fetcher) Step(ctx context.Context, c paginate.Cursor) (paginate.Page, error) {
	if f.total < 0 {
		err := f.retrier.Do(ctx, "total", func() error {
			total, err := f.source.SearchTotal(ctx, f.opts.Query)
			if err != nil {
				return err
			}
			f.total = total
			return nil
		})
		if err != nil {
			return paginate.Page{}, err
		}
		f.log.Info().Int("total", f.total).Msg("counted matching issues")
	}

	var data []byte
	err := f.retrier.Do(ctx, c.String(), func() error {
		page, err := f.source.ExportCSV(ctx, f.opts.Query, c.Offset(), c.PageSize())
		if err != nil {
			return err
		}
		data = page
		return nil
	})
	if err != nil {
		return paginate.Page{}, err
	}

	rows, err := countRows(data)
	if err != nil {
		return paginate.Page{}, fmt.Errorf("parse page at %s: %w", c, err)
	}
	if rows == 0 {
		return paginate.Page{Info: paginate.PageInfo{Rows: 0, Total: f.total}}, nil
	}

	name, err := f.writePage(data)
	if err != nil {
		return paginate.Page{}, err
	}
	result, err := json.Marshal(name)
	if err != nil {
		return paginate.Page{}, fmt.Errorf("encode page name: %w", err)
	}

	f.log.Debug().Str("file", name).Int("rows", rows).Int("offset", c.Offset()).Msg("page written")
	return paginate.Page{
		Info:    paginate.PageInfo{Rows: rows, Total: f.total},
		Results: []json.RawMessage{result},
	}, nil
}

func (f *Fetcher) writePage(data []byte) (string, error) {
	if err := os.MkdirAll(f.opts.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.csv", f.opts.Kind, uuid.NewString())
	if err := atomic.WriteFile(filepath.Join(f.opts.Dir, name), bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write page file: %w", err)
	}
	return name, nil
}

// countRows returns the number of data records below the header.
func countRows(data []byte) (int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	rows := -1
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		rows++
	}
	if rows < 0 {
		return 0, nil
	}
	return rows, nil
}

// PageFiles decodes the page file names recorded in a checkpoint data block.
func PageFiles(dir string, results []json.RawMessage) ([]string, error) {
	paths := make([]string, 0, len(results))
	for _, raw := range results {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, fmt.Errorf("decode page entry %s: %w", raw, err)
		}
		paths = append(paths, filepath.Join(dir, filepath.Base(name)))
	}
	return paths, nil
}

// RemovePages deletes the page files a data block refers to.
// Files that are already gone are ignored.
func RemovePages(dir string, results []json.RawMessage) error {
	paths, err := PageFiles(dir, results)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
