package schema

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrMissingColumn indicates a column every export needs is absent.
var ErrMissingColumn = errors.New("required column missing")

// ColumnKind says how the values of a column are interpreted.
type ColumnKind int

const (
	KindPassthrough ColumnKind = iota // Kept verbatim under its header
	KindSystem                        // Single-valued system field
	KindProject                       // Attribute of the owning project
	KindProjectKey
	KindIssueKey
	KindIssueID
	KindParentID
	KindSummary
	KindCustom // "Custom field (<Name>)"
	KindComment
	KindAttachment
	KindWorklog
	KindLabel
	KindComponent
	KindFixVersion
	KindAffectedVersion
	KindSprint
	KindWatcher
	KindInwardLink
	KindOutwardLink
	KindEstimate
	KindDate
	KindUser
)

var kindNames = map[ColumnKind]string{
	KindPassthrough: "passthrough", KindSystem: "system", KindProject: "project",
	KindProjectKey: "project-key", KindIssueKey: "issue-key", KindIssueID: "issue-id",
	KindParentID: "parent-id", KindSummary: "summary", KindCustom: "custom",
	KindComment: "comment", KindAttachment: "attachment", KindWorklog: "worklog",
	KindLabel: "label", KindComponent: "component", KindFixVersion: "fix-version",
	KindAffectedVersion: "affected-version", KindSprint: "sprint", KindWatcher: "watcher",
	KindInwardLink: "inward-link", KindOutwardLink: "outward-link", KindEstimate: "estimate",
	KindDate: "date", KindUser: "user",
}

func (k ColumnKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Column is one classified slot of a unified schema.
type Column struct {
	Index      int    // Position in the unified schema
	Name       string // Header text
	Occurrence int    // 0-based rank among columns with the same header
	Kind       ColumnKind
	Field      string // Document attribute, or the display name for custom fields
	LinkType   string // Link type name for link columns
}

// systemColumn binds a header of the Jira CSV export to a document attribute.
type systemColumn struct {
	Header string
	Kind   ColumnKind
	Field  string
}

var systemColumns = []systemColumn{
	{"Project key", KindProjectKey, "projectKey"},
	{"Project name", KindProject, "name"},
	{"Project type", KindProject, "type"},
	{"Project lead", KindProject, "lead"},
	{"Project description", KindProject, "description"},
	{"Project url", KindProject, "url"},
	{"Issue key", KindIssueKey, "key"},
	{"Issue id", KindIssueID, "externalId"},
	{"Parent id", KindParentID, "parentId"},
	{"Parent", KindParentID, "parentId"},
	{"Summary", KindSummary, "summary"},
	{"Issue Type", KindSystem, "issueType"},
	{"Status", KindSystem, "status"},
	{"Priority", KindSystem, "priority"},
	{"Resolution", KindSystem, "resolution"},
	{"Description", KindSystem, "description"},
	{"Environment", KindSystem, "environment"},
	{"Reporter", KindUser, "reporter"},
	{"Assignee", KindUser, "assignee"},
	{"Creator", KindUser, "creator"},
	{"Created", KindDate, "created"},
	{"Updated", KindDate, "updated"},
	{"Resolved", KindDate, "resolutionDate"},
	{"Due Date", KindDate, "duedate"},
	{"Labels", KindLabel, "labels"},
	{"Component/s", KindComponent, "components"},
	{"Fix Version/s", KindFixVersion, "fixedVersions"},
	{"Affects Version/s", KindAffectedVersion, "affectedVersions"},
	{"Watchers", KindWatcher, "watchers"},
	{"Sprint", KindSprint, "sprints"},
	{"Comment", KindComment, "comments"},
	{"Attachment", KindAttachment, "attachments"},
	{"Log Work", KindWorklog, "worklogs"},
	{"Original Estimate", KindEstimate, "originalEstimate"},
	{"Remaining Estimate", KindEstimate, "estimate"},
	{"Time Spent", KindEstimate, "timeSpent"},
}

var (
	byHeader = func() map[string]systemColumn {
		m := make(map[string]systemColumn, len(systemColumns))
		for _, c := range systemColumns {
			m[c.Header] = c
		}
		return m
	}()

	customPattern  = regexp.MustCompile(`^Custom field \((.+)\)$`)
	inwardPattern  = regexp.MustCompile(`^Inward issue link \((.+)\)$`)
	outwardPattern = regexp.MustCompile(`^Outward issue link \((.+)\)$`)
)

// CustomFieldName extracts <Name> from a "Custom field (<Name>)" header.
func CustomFieldName(header string) (string, bool) {
	m := customPattern.FindStringSubmatch(header)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// HeaderFor returns the export header of a single-valued system attribute,
// the inverse of the classification of that header.
func HeaderFor(field string) (string, bool) {
	for _, c := range systemColumns {
		if c.Field == field && c.Kind != KindProject {
			return c.Header, true
		}
	}
	return "", false
}

// Classify assigns a Column to every header slot. The project key and issue
// key columns are required.
func Classify(header []string) ([]Column, error) {
	rank := make(map[string]int, len(header))
	cols := make([]Column, len(header))
	var hasProject, hasIssue bool

	for i, name := range header {
		col := Column{Index: i, Name: name, Occurrence: rank[name], Kind: KindPassthrough, Field: name}
		rank[name]++

		if sc, ok := byHeader[name]; ok {
			col.Kind = sc.Kind
			col.Field = sc.Field
		} else if custom, ok := CustomFieldName(name); ok {
			col.Kind = KindCustom
			col.Field = custom
			// Some instances export the agile sprint field as a custom field
			if custom == "Sprint" {
				col.Kind = KindSprint
				col.Field = "sprints"
			}
		} else if m := inwardPattern.FindStringSubmatch(name); m != nil {
			col.Kind = KindInwardLink
			col.LinkType = m[1]
		} else if m := outwardPattern.FindStringSubmatch(name); m != nil {
			col.Kind = KindOutwardLink
			col.LinkType = m[1]
		}

		switch col.Kind {
		case KindProjectKey:
			hasProject = true
		case KindIssueKey:
			hasIssue = true
		}
		cols[i] = col
	}

	if !hasProject {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, "Project key")
	}
	if !hasIssue {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, "Issue key")
	}
	return cols, nil
}
