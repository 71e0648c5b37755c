// Package domain defines the normalized types for exported Jira data.
// These types represent the export document model independent of the
// Jira REST and CSV representations they are built from.
package domain

import "strings"

// OutputFormat selects the shape of the final export file.
type OutputFormat string

const (
	FormatCSV  OutputFormat = "csv"
	FormatJSON OutputFormat = "json"
)

// FieldPolicy controls which columns survive into the export.
// Include and Exclude are mutually exclusive; both hold column names.
type FieldPolicy struct {
	Include []string
	Exclude []string
}

// Allows reports whether a column survives the policy. Names match the
// header text, or the display name inside a "Custom field (<Name>)" header.
func (p FieldPolicy) Allows(header string) bool {
	if len(p.Include) > 0 {
		return matchesAny(p.Include, header)
	}
	return !matchesAny(p.Exclude, header)
}

func matchesAny(names []string, header string) bool {
	short := strings.TrimSuffix(strings.TrimPrefix(header, "Custom field ("), ")")
	for _, n := range names {
		if n == header || n == short {
			return true
		}
	}
	return false
}

// FieldDescriptor is the resolved identity of one export column.
type FieldDescriptor struct {
	DisplayName string `json:"displayName"` // Name shown in the Jira UI (e.g., "Story Points")
	InternalID  string `json:"internalId"`  // Stable field id (e.g., "customfield_10016", "labels")
	CustomType  string `json:"customType"`  // Custom field type key, empty for system fields
	IsSystem    bool   `json:"isSystem"`
}

// IsMultiValued reports whether repeated columns of this field merge into one list.
func (f FieldDescriptor) IsMultiValued() bool {
	switch f.CustomType {
	case CustomTypeMultiSelect, CustomTypeCascadingSelect, CustomTypeMultiUserPicker,
		CustomTypeMultiCheckboxes, CustomTypeMultiGroupPicker, CustomTypeMultiVersion, CustomTypeLabels:
		return true
	}
	return false
}

// Custom field type keys that hold more than one value.
const (
	CustomTypeMultiSelect      = "com.atlassian.jira.plugin.system.customfieldtypes:multiselect"
	CustomTypeCascadingSelect  = "com.atlassian.jira.plugin.system.customfieldtypes:cascadingselect"
	CustomTypeMultiUserPicker  = "com.atlassian.jira.plugin.system.customfieldtypes:multiuserpicker"
	CustomTypeMultiCheckboxes  = "com.atlassian.jira.plugin.system.customfieldtypes:multicheckboxes"
	CustomTypeMultiGroupPicker = "com.atlassian.jira.plugin.system.customfieldtypes:multigrouppicker"
	CustomTypeMultiVersion     = "com.atlassian.jira.plugin.system.customfieldtypes:multiversion"
	CustomTypeLabels           = "com.atlassian.jira.plugin.system.customfieldtypes:labels"
)

// User is one entry of the Jira user directory.
type User struct {
	AccountID   string   `json:"accountId"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email,omitempty"`
	Active      bool     `json:"active"`
	Groups      []string `json:"groups,omitempty"`
}

// UserRef is a user reference inside an exported issue.
// AccountID is empty when the display name could not be resolved; Candidates
// lists every matching account when the name is ambiguous.
type UserRef struct {
	Name       string   `json:"name"`
	AccountID  string   `json:"accountId,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// Sprint is an agile iteration as reported in an issue's sprint field.
type Sprint struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	BoardID   int    `json:"boardId,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// Component is a project component.
type Component struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Lead        string `json:"lead,omitempty"`
}

// Version is a project version.
type Version struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Released    bool   `json:"released"`
	Archived    bool   `json:"archived"`
	ReleaseDate string `json:"releaseDate,omitempty"`
}

// Comment is one comment parsed from a delimited export cell.
type Comment struct {
	Body       string `json:"body"`
	Author     string `json:"author"`
	Created    string `json:"created"`
	IsInternal bool   `json:"isInternal,omitempty"`
}

// Attachment is one attachment parsed from a delimited export cell.
type Attachment struct {
	Name     string `json:"name"`
	Attacher string `json:"attacher"`
	Created  string `json:"created"`
	URI      string `json:"uri"`
}

// Worklog is one work log entry parsed from a delimited export cell.
type Worklog struct {
	Author    string `json:"author"`
	Comment   string `json:"comment,omitempty"`
	StartDate string `json:"startDate"`
	TimeSpent string `json:"timeSpent"` // ISO-8601 duration (e.g., "PT1H30M")
}

// CustomFieldValue holds the value of one custom field on an issue.
// Value is a string for single-valued fields and a []string for multi-valued ones.
type CustomFieldValue struct {
	FieldName string `json:"fieldName"`
	FieldID   string `json:"fieldId,omitempty"`
	FieldType string `json:"fieldType,omitempty"`
	Value     any    `json:"value"`
}

// Link relates two issues by link type name.
type Link struct {
	Name          string `json:"name"`
	SourceID      string `json:"sourceId"`
	DestinationID string `json:"destinationId"`
}

// SubtaskLinkName is the link type used for sub-task → parent relations.
const SubtaskLinkName = "sub-task-link"

// HistoryRecord is one changed field of one history entry of one issue.
type HistoryRecord struct {
	IssueKey   string `json:"issueKey"`
	IssueID    string `json:"issueId"`
	Summary    string `json:"summary,omitempty"`
	HistoryID  string `json:"historyId"`
	Author     string `json:"author"`
	Created    string `json:"created"`
	Field      string `json:"field"`
	FieldType  string `json:"fieldType"`
	From       string `json:"from,omitempty"`
	FromString string `json:"fromString,omitempty"`
	To         string `json:"to,omitempty"`
	ToString   string `json:"toString,omitempty"`
}

// HistoryColumns is the header of the history CSV output, in record order.
var HistoryColumns = []string{
	"Issue Key", "Issue Id", "Summary", "History Id", "Author", "Created",
	"Field", "Field Type", "From", "From String", "To", "To String",
}

// Row renders the record in HistoryColumns order.
func (r HistoryRecord) Row() []string {
	return []string{
		r.IssueKey, r.IssueID, r.Summary, r.HistoryID, r.Author, r.Created,
		r.Field, r.FieldType, r.From, r.FromString, r.To, r.ToString,
	}
}

// IssueDocument is the reconstructed nested form of one exported issue.
type IssueDocument struct {
	Key              string             `json:"key"`
	ExternalID       string             `json:"externalId"`
	ProjectKey       string             `json:"projectKey"`
	ParentID         string             `json:"-"`
	Summary          string             `json:"summary"`
	IssueType        string             `json:"issueType,omitempty"`
	Status           string             `json:"status,omitempty"`
	Priority         string             `json:"priority,omitempty"`
	Resolution       string             `json:"resolution,omitempty"`
	Reporter         *UserRef           `json:"reporter,omitempty"`
	Assignee         *UserRef           `json:"assignee,omitempty"`
	Creator          *UserRef           `json:"creator,omitempty"`
	Created          string             `json:"created,omitempty"`
	Updated          string             `json:"updated,omitempty"`
	ResolutionDate   string             `json:"resolutionDate,omitempty"`
	DueDate          string             `json:"duedate,omitempty"`
	Description      string             `json:"description,omitempty"`
	Environment      string             `json:"environment,omitempty"`
	Labels           []string           `json:"labels,omitempty"`
	Components       []string           `json:"components,omitempty"`
	FixedVersions    []string           `json:"fixedVersions,omitempty"`
	AffectedVersions []string           `json:"affectedVersions,omitempty"`
	Watchers         []string           `json:"watchers,omitempty"`
	Sprints          []Sprint           `json:"sprints,omitempty"`
	Comments         []Comment          `json:"comments,omitempty"`
	Attachments      []Attachment       `json:"attachments,omitempty"`
	Worklogs         []Worklog          `json:"worklogs,omitempty"`
	CustomFields     []CustomFieldValue `json:"customFieldValues,omitempty"`
	OriginalEstimate string             `json:"originalEstimate,omitempty"`
	Estimate         string             `json:"estimate,omitempty"`
	TimeSpent        string             `json:"timeSpent,omitempty"`
	History          []HistoryRecord    `json:"history,omitempty"`
	Fields           map[string]string  `json:"fields,omitempty"` // Passthrough columns keyed by header
}

// ProjectDocument groups the issues of one project key.
type ProjectDocument struct {
	Key         string           `json:"key"`
	Name        string           `json:"name,omitempty"`
	Type        string           `json:"type,omitempty"`
	Description string           `json:"description,omitempty"`
	URL         string           `json:"url,omitempty"`
	Lead        string           `json:"lead,omitempty"`
	Template    string           `json:"template,omitempty"`
	Workflow    string           `json:"workflowSchemeName,omitempty"`
	Components  []Component      `json:"components,omitempty"`
	Versions    []Version        `json:"versions,omitempty"`
	Issues      []*IssueDocument `json:"issues"`
}

// ExportDocument is the root of a JSON export.
type ExportDocument struct {
	Projects []*ProjectDocument `json:"projects"`
	Links    []Link             `json:"links,omitempty"`
	Users    []User             `json:"users,omitempty"`
}
