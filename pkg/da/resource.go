package da

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Activities and app bundles share one versioned resource layout:
// /{coll}/{name}, /{coll}/{name}/versions[/{v}], /{coll}/{name}/aliases[/{id}].

func resourcePath(coll, name string) string {
	return "/" + coll + "/" + url.PathEscape(name)
}

func (s *Service) versions(ctx context.Context, token, coll, name string) ([]int, error) {
	if name == "" {
		return nil, fmt.Errorf("%s name is required", coll)
	}
	return collect[int](ctx, s, "da."+coll+".versions", token, resourcePath(coll, name)+"/versions")
}

func (s *Service) aliases(ctx context.Context, token, coll, name string) ([]Alias, error) {
	if name == "" {
		return nil, fmt.Errorf("%s name is required", coll)
	}
	return collect[Alias](ctx, s, "da."+coll+".aliases", token, resourcePath(coll, name)+"/aliases")
}

func (s *Service) createAlias(ctx context.Context, token, coll, name string, version int, label string) (*Alias, error) {
	if name == "" {
		return nil, fmt.Errorf("%s name is required", coll)
	}
	if label == "" {
		return nil, fmt.Errorf("alias label is required")
	}

	var alias Alias
	body := Alias{ID: label, Version: version}
	if err := s.send(ctx, http.MethodPost, token, resourcePath(coll, name)+"/aliases", body, &alias); err != nil {
		return nil, fmt.Errorf("create %s alias %s+%s: %w", coll, name, label, err)
	}
	return &alias, nil
}

// versionFor resolves an alias label to its version.
func (s *Service) versionFor(ctx context.Context, token, coll, name, label string) (int, error) {
	aliases, err := s.aliases(ctx, token, coll, name)
	if err != nil {
		return 0, err
	}
	for _, a := range aliases {
		if a.ID == label {
			return a.Version, nil
		}
	}
	return 0, fmt.Errorf("%s %s+%s: %w", coll, name, label, ErrAliasNotFound)
}

func (s *Service) deleteResource(ctx context.Context, token, coll, name string) error {
	if name == "" {
		return fmt.Errorf("%s name is required", coll)
	}
	if err := s.remove(ctx, token, resourcePath(coll, name)); err != nil {
		return fmt.Errorf("delete %s %s: %w", coll, name, err)
	}
	return nil
}

func (s *Service) deleteVersion(ctx context.Context, token, coll, name string, version int) error {
	path := resourcePath(coll, name) + "/versions/" + strconv.Itoa(version)
	if err := s.remove(ctx, token, path); err != nil {
		return fmt.Errorf("delete %s %s version %d: %w", coll, name, version, err)
	}
	return nil
}

func (s *Service) deleteAlias(ctx context.Context, token, coll, name, label string) error {
	if label == "" {
		return errors.New("alias label is required")
	}
	path := resourcePath(coll, name) + "/aliases/" + url.PathEscape(label)
	if err := s.remove(ctx, token, path); err != nil {
		return fmt.Errorf("delete %s alias %s+%s: %w", coll, name, label, err)
	}
	return nil
}
