package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/h0rv/jex/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CatalogSource lists the components and versions of a project.
// *jira.Client satisfies it.
type CatalogSource interface {
	ProjectComponents(ctx context.Context, projectKey string) ([]domain.Component, error)
	ProjectVersions(ctx context.Context, projectKey string) ([]domain.Version, error)
}

// ProjectInfo is the remote catalog of one project.
type ProjectInfo struct {
	Components []domain.Component
	Versions   []domain.Version
}

// ProjectCatalog resolves project catalogs lazily, once per project key.
// Concurrent lookups of the same key share one pair of requests.
type ProjectCatalog struct {
	source CatalogSource
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]ProjectInfo
}

// NewProjectCatalog creates an empty catalog backed by source.
func NewProjectCatalog(source CatalogSource) *ProjectCatalog {
	return &ProjectCatalog{source: source, cache: make(map[string]ProjectInfo)}
}

// Lookup returns the catalog of projectKey, fetching it on first use.
func (p *ProjectCatalog) Lookup(ctx context.Context, projectKey string) (ProjectInfo, error) {
	p.mu.RLock()
	info, ok := p.cache[projectKey]
	p.mu.RUnlock()
	if ok {
		return info, nil
	}

	v, err, _ := p.group.Do(projectKey, func() (any, error) {
		p.mu.RLock()
		info, ok := p.cache[projectKey]
		p.mu.RUnlock()
		if ok {
			return info, nil
		}

		components, err := p.source.ProjectComponents(ctx, projectKey)
		if err != nil {
			return nil, err
		}
		versions, err := p.source.ProjectVersions(ctx, projectKey)
		if err != nil {
			return nil, err
		}
		info = ProjectInfo{Components: components, Versions: versions}

		p.mu.Lock()
		p.cache[projectKey] = info
		p.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return ProjectInfo{}, fmt.Errorf("project catalog %s: %w", projectKey, err)
	}
	return v.(ProjectInfo), nil
}
