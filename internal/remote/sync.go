package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tabvault/tabvault/internal/library"
)

// The sync API mirrors the local entity model record for record. No
// reconciliation happens on this side; callers decide what to push and
// when. All calls are bearer-protected.

// ListSpaces fetches the remote space records.
func (c *Client) ListSpaces(ctx context.Context) ([]library.Space, error) {
	var out []library.Space
	err := c.do(ctx, http.MethodGet, "/api/v1/spaces", nil, &out, true)
	return out, err
}

// CreateSpace pushes a new space record.
func (c *Client) CreateSpace(ctx context.Context, space library.Space) (library.Space, error) {
	var out library.Space
	err := c.do(ctx, http.MethodPost, "/api/v1/spaces", space, &out, true)
	return out, err
}

// UpdateSpace replaces the remote space record.
func (c *Client) UpdateSpace(ctx context.Context, space library.Space) (library.Space, error) {
	var out library.Space
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/spaces/%s", url.PathEscape(space.ID)), space, &out, true)
	return out, err
}

// DeleteSpace removes the remote space record.
func (c *Client) DeleteSpace(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/spaces/%s", url.PathEscape(id)), nil, nil, true)
}

// ListCollections fetches the remote collections under a space.
func (c *Client) ListCollections(ctx context.Context, spaceID string) ([]library.Collection, error) {
	var out []library.Collection
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/spaces/%s/collections", url.PathEscape(spaceID)), nil, &out, true)
	return out, err
}

// CreateCollection pushes a new collection record under its space.
func (c *Client) CreateCollection(ctx context.Context, collection library.Collection) (library.Collection, error) {
	var out library.Collection
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/spaces/%s/collections", url.PathEscape(collection.SpaceID)), collection, &out, true)
	return out, err
}

// UpdateCollection replaces the remote collection record.
func (c *Client) UpdateCollection(ctx context.Context, collection library.Collection) (library.Collection, error) {
	var out library.Collection
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/collections/%s", url.PathEscape(collection.ID)), collection, &out, true)
	return out, err
}

// DeleteCollection removes the remote collection record.
func (c *Client) DeleteCollection(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/collections/%s", url.PathEscape(id)), nil, nil, true)
}

// ListTabs fetches the remote tabs under a collection.
func (c *Client) ListTabs(ctx context.Context, collectionID string) ([]library.Tab, error) {
	var out []library.Tab
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/collections/%s/tabs", url.PathEscape(collectionID)), nil, &out, true)
	return out, err
}

// CreateTab pushes a new tab record under its collection.
func (c *Client) CreateTab(ctx context.Context, tab library.Tab) (library.Tab, error) {
	var out library.Tab
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/collections/%s/tabs", url.PathEscape(tab.CollectionID)), tab, &out, true)
	return out, err
}

// UpdateTab replaces the remote tab record.
func (c *Client) UpdateTab(ctx context.Context, tab library.Tab) (library.Tab, error) {
	var out library.Tab
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/tabs/%s", url.PathEscape(tab.ID)), tab, &out, true)
	return out, err
}

// DeleteTab removes the remote tab record.
func (c *Client) DeleteTab(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/tabs/%s", url.PathEscape(id)), nil, nil, true)
}

// BatchUpsertTabs pushes many tab records in one call.
func (c *Client) BatchUpsertTabs(ctx context.Context, tabs []library.Tab) error {
	return c.do(ctx, http.MethodPost, "/api/v1/tabs/batch", tabs, nil, true)
}
