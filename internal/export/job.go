// Package export runs one issue export end to end: paginated page fetch
// with checkpoints, schema reconciliation and, for JSON, the document tree.
package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/h0rv/jex/internal/domain"
)

// ErrInvalidJob is returned when a job fails validation. No request has
// been made at that point.
var ErrInvalidJob = errors.New("invalid export job")

// Job is the immutable configuration of one export run.
type Job struct {
	Query    string
	PageSize int
	Format   domain.OutputFormat
	Policy   domain.FieldPolicy
	Output   string // Path of the final export file

	WithHistory   bool
	HistoryField  string
	WithUsers     bool              // Add the user directory with group memberships
	UserOverrides map[string]string // Display name to account id for ambiguous names
	DateFormat    string
	TemplatesFile string // Project type/key to template and workflow mapping
}

// Validate checks the job before any network I/O.
func (j Job) Validate() error {
	var problems []string
	if strings.TrimSpace(j.Query) == "" {
		problems = append(problems, "query is empty")
	}
	if j.PageSize <= 0 {
		problems = append(problems, fmt.Sprintf("page size must be positive, got %d", j.PageSize))
	}
	switch j.Format {
	case domain.FormatCSV, domain.FormatJSON:
	default:
		problems = append(problems, fmt.Sprintf("unknown format %q (want csv or json)", j.Format))
	}
	if len(j.Policy.Include) > 0 && len(j.Policy.Exclude) > 0 {
		problems = append(problems, "include and exclude are mutually exclusive")
	}
	if j.Output == "" {
		problems = append(problems, "output path is empty")
	}
	if j.Format == domain.FormatCSV && (j.WithHistory || j.WithUsers || j.TemplatesFile != "") {
		problems = append(problems, "json-only options set for a csv export")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidJob, strings.Join(problems, "; "))
	}
	return nil
}
