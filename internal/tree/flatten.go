package tree

import (
	"strconv"
	"time"

	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/schema"
)

// Flatten maps the single-valued system fields of an issue back to export
// headers. Dates are rendered with layout and durations as seconds, so a
// row of system fields survives Build followed by Flatten unchanged.
// Empty fields are left out.
func Flatten(issue *domain.IssueDocument, layout string) map[string]string {
	values := map[string]string{
		"projectKey":  issue.ProjectKey,
		"key":         issue.Key,
		"externalId":  issue.ExternalID,
		"parentId":    issue.ParentID,
		"summary":     issue.Summary,
		"issueType":   issue.IssueType,
		"status":      issue.Status,
		"priority":    issue.Priority,
		"resolution":  issue.Resolution,
		"description": issue.Description,
		"environment": issue.Environment,
	}
	for field, ref := range map[string]*domain.UserRef{
		"reporter": issue.Reporter, "assignee": issue.Assignee, "creator": issue.Creator,
	} {
		if ref != nil {
			values[field] = ref.Name
		}
	}
	for field, v := range map[string]string{
		"created": issue.Created, "updated": issue.Updated,
		"resolutionDate": issue.ResolutionDate, "duedate": issue.DueDate,
	} {
		if t, err := time.Parse(OutputLayout, v); err == nil {
			values[field] = t.Format(layout)
		}
	}
	for field, v := range map[string]string{
		"originalEstimate": issue.OriginalEstimate, "estimate": issue.Estimate, "timeSpent": issue.TimeSpent,
	} {
		if secs, err := SecondsFromISO(v); err == nil {
			values[field] = strconv.FormatInt(secs, 10)
		}
	}

	out := make(map[string]string, len(values))
	for field, v := range values {
		if v == "" {
			continue
		}
		if header, ok := schema.HeaderFor(field); ok {
			out[header] = v
		}
	}
	return out
}
