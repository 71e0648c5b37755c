// Package entity resolves the human-readable references of an export
// (user names, sprint names, linked issues) to canonical identities.
package entity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/h0rv/jex/internal/cache"
	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/workpool"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrUserNotFound is returned when no account carries the display name.
var ErrUserNotFound = errors.New("user not found")

// AmbiguousUserError is returned when several accounts share a display name
// and no override says which one is meant.
type AmbiguousUserError struct {
	Name       string
	Candidates []string // Account ids, sorted
}

func (e *AmbiguousUserError) Error() string {
	return fmt.Sprintf("display name %q matches %d accounts (%s); add an override to choose one",
		e.Name, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// UserSource lists the user directory. *jira.Client satisfies it.
type UserSource interface {
	AllUsers(ctx context.Context) ([]domain.User, error)
}

// GroupSource lists the groups of one user. *jira.Client satisfies it.
type GroupSource interface {
	UserGroups(ctx context.Context, accountID string) ([]string, error)
}

// Directory maps display names to account ids.
// It is read-only after construction and safe for concurrent use.
type Directory struct {
	users     []domain.User
	byName    map[string][]string
	byID      map[string]bool
	overrides map[string]string
}

// NewDirectory indexes users. overrides maps display names to the account
// id to use when the name is ambiguous.
func NewDirectory(users []domain.User, overrides map[string]string) *Directory {
	d := &Directory{
		users:     users,
		byName:    make(map[string][]string, len(users)),
		byID:      make(map[string]bool, len(users)),
		overrides: overrides,
	}
	for _, u := range users {
		d.byName[u.DisplayName] = append(d.byName[u.DisplayName], u.AccountID)
		d.byID[u.AccountID] = true
	}
	for name := range d.byName {
		sort.Strings(d.byName[name])
	}
	return d
}

// LoadDirectory builds the directory of instance once per job, from the
// entity cache when it holds an unexpired copy.
func LoadDirectory(ctx context.Context, src UserSource, c *cache.Cache, instance string, overrides map[string]string, log zerolog.Logger) (*Directory, error) {
	var users []domain.User
	if c != nil {
		if ok, err := c.Get(cache.CategoryUsers, instance, &users); err != nil {
			log.Warn().Err(err).Msg("ignoring cached users")
		} else if ok {
			log.Debug().Int("users", len(users)).Msg("user directory loaded from cache")
			return NewDirectory(users, overrides), nil
		}
	}

	users, err := src.AllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load user directory: %w", err)
	}
	log.Info().Int("users", len(users)).Msg("user directory loaded")

	if c != nil {
		if err := c.Put(cache.CategoryUsers, instance, users); err != nil {
			log.Warn().Err(err).Msg("cannot cache user directory")
		}
	}
	return NewDirectory(users, overrides), nil
}

// Resolve returns the account id for a display name.
// An override wins over the directory. A value that already is an account
// id (Server exports carry user names) resolves to itself.
func (d *Directory) Resolve(name string) (string, error) {
	if id, ok := d.overrides[name]; ok {
		return id, nil
	}
	ids := d.byName[name]
	switch {
	case len(ids) == 1:
		return ids[0], nil
	case len(ids) > 1:
		return "", &AmbiguousUserError{Name: name, Candidates: append([]string(nil), ids...)}
	case d.byID[name]:
		return name, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUserNotFound, name)
}

// Ref builds the reference stored in an issue. Unresolved names keep their
// text; ambiguous names carry every candidate. It returns nil for an empty name.
func (d *Directory) Ref(name string) *domain.UserRef {
	if name == "" {
		return nil
	}
	ref := &domain.UserRef{Name: name}
	id, err := d.Resolve(name)
	var ambiguous *AmbiguousUserError
	switch {
	case err == nil:
		ref.AccountID = id
	case errors.As(err, &ambiguous):
		ref.Candidates = ambiguous.Candidates
	}
	return ref
}

// LoadOverrides reads a YAML map of display name to account id.
func LoadOverrides(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user overrides: %w", err)
	}
	overrides := make(map[string]string)
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse user overrides %s: %w", path, err)
	}
	return overrides, nil
}

// Users returns the directory entries.
func (d *Directory) Users() []domain.User {
	users := make([]domain.User, len(d.users))
	copy(users, d.users)
	return users
}

// WithGroups returns users with their group memberships filled in, looked
// up on the worker pool. A failed lookup leaves that user without groups.
func WithGroups(ctx context.Context, src GroupSource, users []domain.User, workers int, log zerolog.Logger) ([]domain.User, error) {
	return workpool.Map(ctx, workers, users, func(ctx context.Context, u domain.User) (domain.User, error) {
		groups, err := src.UserGroups(ctx, u.AccountID)
		if err != nil {
			if ctx.Err() != nil {
				return u, ctx.Err()
			}
			log.Warn().Err(err).Str("account", u.AccountID).Msg("cannot list groups")
			return u, nil
		}
		u.Groups = groups
		return u, nil
	})
}
