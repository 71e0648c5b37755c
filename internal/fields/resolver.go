// Package fields maps export column headers to Jira field identities.
package fields

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/h0rv/jex/internal/cache"
	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/schema"
	"github.com/h0rv/jex/internal/workpool"
	"github.com/rs/zerolog"
)

// ErrFieldNotFound is returned when no field carries the looked-up name.
var ErrFieldNotFound = errors.New("field not found")

// Source lists the fields of a Jira instance. *jira.Client satisfies it.
type Source interface {
	Fields(ctx context.Context) ([]domain.FieldDescriptor, error)
}

// Resolver resolves headers to FieldDescriptors and remembers the answers
// for the rest of the job. It is safe for concurrent use.
type Resolver struct {
	source   Source
	cache    *cache.Cache
	instance string
	workers  int
	log      zerolog.Logger

	loadOnce sync.Once
	loadErr  error
	byName   map[string]domain.FieldDescriptor

	mu       sync.RWMutex
	resolved map[string]domain.FieldDescriptor // Keyed by original header
	dirty    bool
}

// NewResolver creates a Resolver. Resolutions cached for instance are
// loaded from c; c may be nil.
func NewResolver(source Source, c *cache.Cache, instance string, workers int, log zerolog.Logger) *Resolver {
	r := &Resolver{
		source:   source,
		cache:    c,
		instance: instance,
		workers:  workers,
		log:      log.With().Str("component", "fields").Logger(),
		resolved: make(map[string]domain.FieldDescriptor),
	}
	if c != nil {
		var cached map[string]domain.FieldDescriptor
		if ok, err := c.Get(cache.CategoryCustomFields, instance, &cached); err != nil {
			r.log.Warn().Err(err).Msg("ignoring cached fields")
		} else if ok && cached != nil {
			r.resolved = cached
			r.log.Debug().Int("fields", len(cached)).Msg("loaded cached field resolutions")
		}
	}
	return r
}

// Resolve returns the descriptor of one header. "Custom field (<Name>)"
// headers are looked up by <Name>, any other header by its full text.
func (r *Resolver) Resolve(ctx context.Context, header string) (domain.FieldDescriptor, error) {
	r.mu.RLock()
	fd, ok := r.resolved[header]
	r.mu.RUnlock()
	if ok {
		return fd, nil
	}

	if err := r.load(ctx); err != nil {
		return domain.FieldDescriptor{}, err
	}

	name := header
	if custom, ok := schema.CustomFieldName(header); ok {
		name = custom
	}
	fd, ok = r.byName[name]
	if !ok {
		return domain.FieldDescriptor{}, fmt.Errorf("%w: %q", ErrFieldNotFound, name)
	}

	r.mu.Lock()
	r.resolved[header] = fd
	r.dirty = true
	r.mu.Unlock()
	return fd, nil
}

// ResolveAll resolves every distinct header on the worker pool.
// Headers that cannot be resolved are logged and left out of the result;
// only a failure to reach the field directory is returned as an error.
func (r *Resolver) ResolveAll(ctx context.Context, headers []string) (map[string]domain.FieldDescriptor, error) {
	distinct := make([]string, 0, len(headers))
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		if !seen[h] {
			seen[h] = true
			distinct = append(distinct, h)
		}
	}

	type outcome struct {
		fd domain.FieldDescriptor
		ok bool
	}
	results, err := workpool.Map(ctx, r.workers, distinct, func(ctx context.Context, h string) (outcome, error) {
		fd, err := r.Resolve(ctx, h)
		if errors.Is(err, ErrFieldNotFound) {
			r.log.Warn().Str("header", h).Msg("unresolved field; keeping raw values")
			return outcome{}, nil
		}
		if err != nil {
			return outcome{}, err
		}
		return outcome{fd: fd, ok: true}, nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]domain.FieldDescriptor, len(distinct))
	for i, h := range distinct {
		if results[i].ok {
			out[h] = results[i].fd
		}
	}
	return out, nil
}

// Persist writes new resolutions to the entity cache.
func (r *Resolver) Persist() error {
	if r.cache == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.dirty {
		return nil
	}
	return r.cache.Put(cache.CategoryCustomFields, r.instance, r.resolved)
}

// load fetches the field directory once per job.
func (r *Resolver) load(ctx context.Context) error {
	r.loadOnce.Do(func() {
		list, err := r.source.Fields(ctx)
		if err != nil {
			r.loadErr = fmt.Errorf("load field directory: %w", err)
			return
		}
		// Lowest id wins when several fields share a name
		sort.SliceStable(list, func(i, j int) bool { return idLess(list[i].InternalID, list[j].InternalID) })
		r.byName = make(map[string]domain.FieldDescriptor, len(list))
		for _, fd := range list {
			if prev, dup := r.byName[fd.DisplayName]; dup {
				r.log.Debug().Str("name", fd.DisplayName).Str("kept", prev.InternalID).Str("skipped", fd.InternalID).Msg("duplicate field name")
				continue
			}
			r.byName[fd.DisplayName] = fd
		}
	})
	return r.loadErr
}

// idLess orders field ids by their numeric suffix, so customfield_9 sorts
// before customfield_10. Ids without one, such as system fields, sort first.
func idLess(a, b string) bool {
	na, okA := idNumber(a)
	nb, okB := idNumber(b)
	switch {
	case okA != okB:
		return !okA
	case okA && na != nb:
		return na < nb
	}
	return a < b
}

func idNumber(id string) (int, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return 0, false
	}
	n, err := strconv.Atoi(id[i:])
	return n, err == nil
}
