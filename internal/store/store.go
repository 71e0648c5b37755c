// Package store provides the in-memory document store a JSON export is
// assembled in. It keeps projects in first-seen order, indexes issues by key
// and by numeric id, and collects links, following the "deep modules"
// principle - simple interface hiding the indexing.
//
// A Store is not safe for concurrent use. Fan-out results are written by
// the single goroutine that joined the workers.
package store

import (
	"errors"
	"fmt"

	"github.com/h0rv/jex/internal/domain"
)

var (
	// ErrNoProject indicates an issue references a project the store does not hold.
	ErrNoProject = errors.New("project not in store")
	// ErrIssueNotFound indicates the requested issue does not exist.
	ErrIssueNotFound = errors.New("issue not found")
	// ErrDuplicateIssue indicates an issue key was added twice.
	ErrDuplicateIssue = errors.New("issue already in store")
)

// Store holds the documents of one export.
type Store struct {
	// Projects in first-seen order
	projects []*domain.ProjectDocument
	byKey    map[string]*domain.ProjectDocument // Project key -> project

	// Issue indexes
	issues       []*domain.IssueDocument
	byIssueKey   map[string]*domain.IssueDocument
	byExternalID map[string]*domain.IssueDocument

	links []domain.Link
	users []domain.User
}

// New creates a new empty Store instance.
func New() *Store {
	return &Store{
		byKey:        make(map[string]*domain.ProjectDocument),
		byIssueKey:   make(map[string]*domain.IssueDocument),
		byExternalID: make(map[string]*domain.IssueDocument),
	}
}

// EnsureProject returns the project with key, creating it on first use.
// init runs exactly once per key, on the newly created project, so
// enrichment happens at most once.
func (s *Store) EnsureProject(key string, init func(p *domain.ProjectDocument)) (*domain.ProjectDocument, bool) {
	if p, ok := s.byKey[key]; ok {
		return p, false
	}
	p := &domain.ProjectDocument{Key: key, Issues: []*domain.IssueDocument{}}
	if init != nil {
		init(p)
	}
	s.projects = append(s.projects, p)
	s.byKey[key] = p
	return p, true
}

// GetProject retrieves a project by key, returning ErrNoProject if not found.
func (s *Store) GetProject(key string) (*domain.ProjectDocument, error) {
	p, ok := s.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProject, key)
	}
	return p, nil
}

// AddIssue appends an issue to its project and indexes it.
// The project must have been created with EnsureProject.
func (s *Store) AddIssue(issue *domain.IssueDocument) error {
	p, err := s.GetProject(issue.ProjectKey)
	if err != nil {
		return err
	}
	if issue.Key != "" {
		if _, dup := s.byIssueKey[issue.Key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateIssue, issue.Key)
		}
		s.byIssueKey[issue.Key] = issue
	}
	if issue.ExternalID != "" {
		s.byExternalID[issue.ExternalID] = issue
	}
	p.Issues = append(p.Issues, issue)
	s.issues = append(s.issues, issue)
	return nil
}

// GetIssue retrieves an issue by key, returning ErrIssueNotFound if not found.
func (s *Store) GetIssue(key string) (*domain.IssueDocument, error) {
	issue, ok := s.byIssueKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIssueNotFound, key)
	}
	return issue, nil
}

// GetIssueByExternalID retrieves an issue by its numeric Jira id.
func (s *Store) GetIssueByExternalID(id string) (*domain.IssueDocument, error) {
	issue, ok := s.byExternalID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrIssueNotFound, id)
	}
	return issue, nil
}

// GetAllIssues returns every issue in insertion order.
func (s *Store) GetAllIssues() []*domain.IssueDocument {
	// Return a copy to prevent external modification of the slice
	issues := make([]*domain.IssueDocument, len(s.issues))
	copy(issues, s.issues)
	return issues
}

// GetProjects returns every project in first-seen order.
func (s *Store) GetProjects() []*domain.ProjectDocument {
	projects := make([]*domain.ProjectDocument, len(s.projects))
	copy(projects, s.projects)
	return projects
}

// AddLinks appends issue links.
func (s *Store) AddLinks(links ...domain.Link) {
	s.links = append(s.links, links...)
}

// GetLinks returns a copy of the collected links.
func (s *Store) GetLinks() []domain.Link {
	links := make([]domain.Link, len(s.links))
	copy(links, s.links)
	return links
}

// SetUsers sets the user section of the export.
func (s *Store) SetUsers(users []domain.User) {
	s.users = users
}

// Document assembles the export document.
func (s *Store) Document() *domain.ExportDocument {
	return &domain.ExportDocument{
		Projects: s.GetProjects(),
		Links:    s.GetLinks(),
		Users:    s.users,
	}
}
