package jira

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ctreminiom/go-atlassian/v2/pkg/infra/models"
	"github.com/h0rv/jex/internal/domain"
)

// userPageSize is the largest page the user search endpoints return.
const userPageSize = 1000

// Fields returns every system and custom field of the instance.
func (c *Client) Fields(ctx context.Context) ([]domain.FieldDescriptor, error) {
	items, resp, err := c.fields.Gets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", callError(resp, err))
	}

	fields := make([]domain.FieldDescriptor, 0, len(items))
	for _, f := range items {
		if f == nil {
			continue
		}
		fd := domain.FieldDescriptor{
			DisplayName: f.Name,
			InternalID:  f.ID,
			IsSystem:    !f.Custom,
		}
		if f.Schema != nil {
			fd.CustomType = f.Schema.Custom
		}
		fields = append(fields, fd)
	}
	return fields, nil
}

// ProjectComponents returns the components of a project.
func (c *Client) ProjectComponents(ctx context.Context, projectKey string) ([]domain.Component, error) {
	items, resp, err := c.components.Gets(ctx, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list components of %s: %w", projectKey, callError(resp, err))
	}

	var components []domain.Component
	for _, item := range items {
		if item == nil {
			continue
		}
		component := domain.Component{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
		}
		if item.Lead != nil {
			component.Lead = item.Lead.DisplayName
		}
		components = append(components, component)
	}
	return components, nil
}

// ProjectVersions returns the versions of a project.
func (c *Client) ProjectVersions(ctx context.Context, projectKey string) ([]domain.Version, error) {
	items, resp, err := c.versions.Gets(ctx, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", projectKey, callError(resp, err))
	}

	var versions []domain.Version
	for _, item := range items {
		if item == nil {
			continue
		}
		versions = append(versions, domain.Version{
			ID:          item.ID,
			Name:        item.Name,
			Released:    item.Released,
			Archived:    item.Archived,
			ReleaseDate: item.ReleaseDate,
		})
	}
	return versions, nil
}

// Users returns one page of the user directory starting at startAt.
func (c *Client) Users(ctx context.Context, startAt, maxResults int) ([]domain.User, error) {
	var (
		items []*models.UserScheme
		err   error
	)
	if c.cloudAPI != nil {
		var resp *models.ResponseScheme
		items, resp, err = c.cloudAPI.User.Gets(ctx, startAt, maxResults)
		err = callError(resp, err)
	} else {
		// Server lists users through a username search matching everyone
		q := url.Values{}
		q.Set("username", ".")
		q.Set("includeInactive", "true")
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(maxResults))
		err = c.get(ctx, "rest/api/2/user/search", q, &items)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list users at %d: %w", startAt, err)
	}

	var users []domain.User
	for _, item := range items {
		if item == nil {
			continue
		}
		// App and system accounts cannot appear as issue participants
		if item.AccountType != "" && item.AccountType != "atlassian" {
			continue
		}
		id := item.AccountID
		if id == "" {
			id = item.Name
		}
		users = append(users, domain.User{
			AccountID:   id,
			DisplayName: item.DisplayName,
			Email:       item.EmailAddress,
			Active:      item.Active,
		})
	}
	return users, nil
}

// AllUsers pages through the whole user directory.
func (c *Client) AllUsers(ctx context.Context) ([]domain.User, error) {
	var all []domain.User
	for start := 0; ; start += userPageSize {
		page, err := c.Users(ctx, start, userPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 {
			return all, nil
		}
		// Cloud filters app accounts after paging, so a short page is not the end
		if !c.cloud && len(page) < userPageSize {
			return all, nil
		}
	}
}

// UserGroups returns the names of the groups a user belongs to.
func (c *Client) UserGroups(ctx context.Context, accountID string) ([]string, error) {
	var items []*models.UserGroupScheme
	if c.cloudAPI != nil {
		groups, resp, err := c.cloudAPI.User.Groups(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to list groups of %s: %w", accountID, callError(resp, err))
		}
		items = groups
	} else {
		q := url.Values{}
		q.Set("username", accountID)
		q.Set("expand", "groups")
		var user models.UserScheme
		if err := c.get(ctx, "rest/api/2/user", q, &user); err != nil {
			return nil, fmt.Errorf("failed to list groups of %s: %w", accountID, err)
		}
		if user.Groups != nil {
			items = user.Groups.Items
		}
	}

	var groups []string
	for _, g := range items {
		if g != nil {
			groups = append(groups, g.Name)
		}
	}
	return groups, nil
}
