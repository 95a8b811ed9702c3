package library

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxNameLength = 190

var (
	// ErrInvalidInput indicates that a create or patch payload failed validation.
	ErrInvalidInput = errors.New("library: invalid input")
	// ErrInvalidViewMode indicates an unrecognized collection view mode.
	ErrInvalidViewMode = errors.New("library: invalid view mode")
)

// ViewMode enumerates how a collection renders its tabs.
type ViewMode string

const (
	// ViewModeList renders tabs as a vertical list.
	ViewModeList ViewMode = "list"
	// ViewModeGrid renders tabs as a card grid.
	ViewModeGrid ViewMode = "grid"
)

// ParseViewMode validates raw input and returns a ViewMode.
func ParseViewMode(raw string) (ViewMode, error) {
	switch ViewMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ViewModeList:
		return ViewModeList, nil
	case ViewModeGrid:
		return ViewModeGrid, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidViewMode, raw)
	}
}

// Space is a top-level workspace grouping collections.
type Space struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Icon        string     `json:"icon,omitempty"`
	Color       string     `json:"color,omitempty"`
	Order       int        `json:"order"`
	IsDefault   bool       `json:"is_default"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
	Deleted     bool       `json:"is_deleted,omitempty"`
}

// Collection is a named grouping of tabs within a space. Deleting a space
// does not cascade here; collections keep their space reference and become
// orphans, still reachable by direct listing.
type Collection struct {
	ID          string     `json:"id"`
	SpaceID     string     `json:"space_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Icon        string     `json:"icon,omitempty"`
	Color       string     `json:"color,omitempty"`
	ViewMode    ViewMode   `json:"view_mode"`
	Order       int        `json:"order"`
	IsDefault   bool       `json:"is_default"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
	Deleted     bool       `json:"is_deleted,omitempty"`
}

// TabMetadata carries optional link-preview fields scraped for a tab.
type TabMetadata struct {
	SiteName string `json:"site_name,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Author   string `json:"author,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
}

// Tab is a saved URL with display metadata, belonging to one collection.
// The URL is an opaque string; it is never parsed or normalized.
type Tab struct {
	ID           string       `json:"id"`
	CollectionID string       `json:"collection_id"`
	Title        string       `json:"title"`
	URL          string       `json:"url"`
	FaviconURL   string       `json:"favicon_url,omitempty"`
	Description  string       `json:"description,omitempty"`
	Order        int          `json:"order"`
	Tags         []string     `json:"tags,omitempty"`
	Metadata     *TabMetadata `json:"metadata,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	SyncedAt     *time.Time   `json:"synced_at,omitempty"`
	Deleted      bool         `json:"is_deleted,omitempty"`
}

// SpaceInput describes the caller-supplied fields for a new space.
type SpaceInput struct {
	Name        string
	Description string
	Icon        string
	Color       string
	IsDefault   bool
}

func (in SpaceInput) validate() error {
	return validateName(in.Name)
}

// CollectionInput describes the caller-supplied fields for a new collection.
type CollectionInput struct {
	Name        string
	Description string
	Icon        string
	Color       string
	ViewMode    ViewMode
}

func (in CollectionInput) validate() error {
	return validateName(in.Name)
}

// TabInput describes the caller-supplied fields for a new tab.
type TabInput struct {
	Title       string
	URL         string
	FaviconURL  string
	Description string
	Tags        []string
	Metadata    *TabMetadata
}

func (in TabInput) validate() error {
	if strings.TrimSpace(in.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	return nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(trimmed) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLength)
	}
	return nil
}

// SpacePatch applies partial updates to a space. Nil fields are untouched.
type SpacePatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Icon        *string    `json:"icon,omitempty"`
	Color       *string    `json:"color,omitempty"`
	Order       *int       `json:"order,omitempty"`
	IsDefault   *bool      `json:"is_default,omitempty"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
}

// CollectionPatch applies partial updates to a collection.
type CollectionPatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Icon        *string    `json:"icon,omitempty"`
	Color       *string    `json:"color,omitempty"`
	ViewMode    *ViewMode  `json:"view_mode,omitempty"`
	Order       *int       `json:"order,omitempty"`
	IsDefault   *bool      `json:"is_default,omitempty"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
}

// TabPatch applies partial updates to a tab.
type TabPatch struct {
	Title       *string      `json:"title,omitempty"`
	URL         *string      `json:"url,omitempty"`
	FaviconURL  *string      `json:"favicon_url,omitempty"`
	Description *string      `json:"description,omitempty"`
	Order       *int         `json:"order,omitempty"`
	Tags        *[]string    `json:"tags,omitempty"`
	Metadata    *TabMetadata `json:"metadata,omitempty"`
	SyncedAt    *time.Time   `json:"synced_at,omitempty"`
}
