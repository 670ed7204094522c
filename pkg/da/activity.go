package da

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

const activities = "activities"

// Verb is how a work item argument is transferred.
type Verb string

const (
	VerbGet   Verb = "get"
	VerbHead  Verb = "head"
	VerbPut   Verb = "put"
	VerbPost  Verb = "post"
	VerbPatch Verb = "patch"
	VerbRead  Verb = "read"
)

// Parameter declares one activity input or output.
type Parameter struct {
	Zip         bool   `json:"zip,omitempty"`
	OnDemand    bool   `json:"ondemand,omitempty"`
	Verb        Verb   `json:"verb"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	LocalName   string `json:"localName,omitempty"`
}

// Activity is an activity definition or version.
type Activity struct {
	// ID is the unqualified name when creating, qualified when read back.
	ID          string               `json:"id,omitempty"`
	CommandLine []string             `json:"commandLine"`
	Engine      string               `json:"engine"`
	AppBundles  []string             `json:"appbundles,omitempty"`
	Description string               `json:"description,omitempty"`
	Parameters  map[string]Parameter `json:"parameters,omitempty"`
	Settings    map[string]any       `json:"settings,omitempty"`
	Version     int                  `json:"version,omitempty"`
}

// Activities lists qualified ids of every visible activity.
func (s *Service) Activities(ctx context.Context, token string) ([]string, error) {
	return collect[string](ctx, s, "da.activities", token, "/activities")
}

// Activity returns an activity by qualified id ("owner.Name+alias").
func (s *Service) Activity(ctx context.Context, token, id string) (*Activity, error) {
	var a Activity
	if err := s.get(ctx, token, resourcePath(activities, id), &a); err != nil {
		return nil, fmt.Errorf("get activity %s: %w", id, err)
	}
	return &a, nil
}

// ActivityVersion returns one version of an owned activity.
func (s *Service) ActivityVersion(ctx context.Context, token, name string, version int) (*Activity, error) {
	var a Activity
	path := resourcePath(activities, name) + "/versions/" + strconv.Itoa(version)
	if err := s.get(ctx, token, path, &a); err != nil {
		return nil, fmt.Errorf("get activity %s version %d: %w", name, version, err)
	}
	return &a, nil
}

// ActivityVersions lists the version numbers of an owned activity.
func (s *Service) ActivityVersions(ctx context.Context, token, name string) ([]int, error) {
	return s.versions(ctx, token, activities, name)
}

// ActivityAliases lists the aliases of an owned activity.
func (s *Service) ActivityAliases(ctx context.Context, token, name string) ([]Alias, error) {
	return s.aliases(ctx, token, activities, name)
}

// CreateActivity creates version 1 of a new activity.
func (s *Service) CreateActivity(ctx context.Context, token string, a Activity) (*Activity, error) {
	if a.ID == "" {
		return nil, fmt.Errorf("activity id is required")
	}
	if a.Engine == "" {
		return nil, fmt.Errorf("engine is required")
	}

	var created Activity
	if err := s.send(ctx, http.MethodPost, token, "/activities", a, &created); err != nil {
		return nil, fmt.Errorf("create activity %s: %w", a.ID, err)
	}
	s.logger.Info().Str("activity", a.ID).Int("version", created.Version).Msg("Activity created")
	return &created, nil
}

// CreateActivityVersion adds a version to an existing activity.
// The id field must be empty in a version body.
func (s *Service) CreateActivityVersion(ctx context.Context, token, name string, a Activity) (*Activity, error) {
	if name == "" {
		return nil, fmt.Errorf("activity name is required")
	}
	a.ID = ""

	var created Activity
	if err := s.send(ctx, http.MethodPost, token, resourcePath(activities, name)+"/versions", a, &created); err != nil {
		return nil, fmt.Errorf("create activity %s version: %w", name, err)
	}
	return &created, nil
}

// CreateActivityAlias points label at version.
func (s *Service) CreateActivityAlias(ctx context.Context, token, name string, version int, label string) (*Alias, error) {
	return s.createAlias(ctx, token, activities, name, version, label)
}

// DeleteActivity deletes an activity with all versions and aliases.
func (s *Service) DeleteActivity(ctx context.Context, token, name string) error {
	return s.deleteResource(ctx, token, activities, name)
}

// DeleteActivityVersion deletes one version.
func (s *Service) DeleteActivityVersion(ctx context.Context, token, name string, version int) error {
	return s.deleteVersion(ctx, token, activities, name, version)
}

// DeleteActivityAlias deletes one alias.
func (s *Service) DeleteActivityAlias(ctx context.Context, token, name, label string) error {
	return s.deleteAlias(ctx, token, activities, name, label)
}
