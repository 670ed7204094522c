package da

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"

	"github.com/Sternrassler/aps-client/pkg/client"
)

const appBundles = "appbundles"

// UploadParameters describe where the app bundle package is posted.
type UploadParameters struct {
	EndpointURL string            `json:"endpointURL"`
	FormData    map[string]string `json:"formData"`
}

// AppBundle is an app bundle definition or version.
type AppBundle struct {
	ID               string            `json:"id,omitempty"`
	Engine           string            `json:"engine"`
	Description      string            `json:"description,omitempty"`
	Package          string            `json:"package,omitempty"`
	Settings         map[string]any    `json:"settings,omitempty"`
	Version          int               `json:"version,omitempty"`
	UploadParameters *UploadParameters `json:"uploadParameters,omitempty"`
}

// AppBundles lists qualified ids of every visible app bundle.
func (s *Service) AppBundles(ctx context.Context, token string) ([]string, error) {
	return collect[string](ctx, s, "da.appbundles", token, "/appbundles")
}

// AppBundle returns an app bundle by qualified id.
func (s *Service) AppBundle(ctx context.Context, token, id string) (*AppBundle, error) {
	var b AppBundle
	if err := s.get(ctx, token, resourcePath(appBundles, id), &b); err != nil {
		return nil, fmt.Errorf("get appbundle %s: %w", id, err)
	}
	return &b, nil
}

// AppBundleVersion returns one version of an owned app bundle.
func (s *Service) AppBundleVersion(ctx context.Context, token, name string, version int) (*AppBundle, error) {
	var b AppBundle
	path := resourcePath(appBundles, name) + "/versions/" + strconv.Itoa(version)
	if err := s.get(ctx, token, path, &b); err != nil {
		return nil, fmt.Errorf("get appbundle %s version %d: %w", name, version, err)
	}
	return &b, nil
}

// AppBundleDetailsByAlias resolves "owner.Name+alias" through the alias list and
// returns the version it points at.
func (s *Service) AppBundleDetailsByAlias(ctx context.Context, token, qualifiedID string) (*AppBundle, error) {
	q, err := ParseQualifiedID(qualifiedID)
	if err != nil {
		return nil, err
	}
	version, err := s.versionFor(ctx, token, appBundles, q.Name, q.Alias)
	if err != nil {
		return nil, err
	}
	return s.AppBundleVersion(ctx, token, q.Name, version)
}

// AppBundleVersions lists the version numbers of an owned app bundle.
func (s *Service) AppBundleVersions(ctx context.Context, token, name string) ([]int, error) {
	return s.versions(ctx, token, appBundles, name)
}

// AppBundleAliases lists the aliases of an owned app bundle.
func (s *Service) AppBundleAliases(ctx context.Context, token, name string) ([]Alias, error) {
	return s.aliases(ctx, token, appBundles, name)
}

// CreateAppBundle registers a new app bundle. The returned UploadParameters
// receive the package through UploadPackage.
func (s *Service) CreateAppBundle(ctx context.Context, token, id, engine, description string) (*AppBundle, error) {
	if id == "" {
		return nil, fmt.Errorf("appbundle id is required")
	}
	if engine == "" {
		return nil, fmt.Errorf("engine is required")
	}

	var created AppBundle
	body := AppBundle{ID: id, Engine: engine, Description: description}
	if err := s.send(ctx, http.MethodPost, token, "/appbundles", body, &created); err != nil {
		return nil, fmt.Errorf("create appbundle %s: %w", id, err)
	}
	s.logger.Info().Str("appbundle", id).Int("version", created.Version).Msg("App bundle created")
	return &created, nil
}

// CreateAppBundleVersion adds a version to an existing app bundle.
func (s *Service) CreateAppBundleVersion(ctx context.Context, token, name, engine, description string) (*AppBundle, error) {
	if name == "" {
		return nil, fmt.Errorf("appbundle name is required")
	}
	if engine == "" {
		return nil, fmt.Errorf("engine is required")
	}

	var created AppBundle
	body := AppBundle{Engine: engine, Description: description}
	if err := s.send(ctx, http.MethodPost, token, resourcePath(appBundles, name)+"/versions", body, &created); err != nil {
		return nil, fmt.Errorf("create appbundle %s version: %w", name, err)
	}
	return &created, nil
}

// CreateAppBundleAlias points label at version.
func (s *Service) CreateAppBundleAlias(ctx context.Context, token, name string, version int, label string) (*Alias, error) {
	return s.createAlias(ctx, token, appBundles, name, version, label)
}

// DeleteAppBundle deletes an app bundle with all versions and aliases.
func (s *Service) DeleteAppBundle(ctx context.Context, token, name string) error {
	return s.deleteResource(ctx, token, appBundles, name)
}

// DeleteAppBundleVersion deletes one version.
func (s *Service) DeleteAppBundleVersion(ctx context.Context, token, name string, version int) error {
	return s.deleteVersion(ctx, token, appBundles, name, version)
}

// DeleteAppBundleAlias deletes one alias.
func (s *Service) DeleteAppBundleAlias(ctx context.Context, token, name, label string) error {
	return s.deleteAlias(ctx, token, appBundles, name, label)
}

// UploadPackage posts the zipped bundle to the pre-signed form endpoint.
// Form fields are written before the file, as the storage backend requires.
func (s *Service) UploadPackage(ctx context.Context, params UploadParameters, filename string, pkg io.Reader) error {
	if params.EndpointURL == "" {
		return fmt.Errorf("upload endpoint is required")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(params.FormData))
	for k := range params.FormData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := form.WriteField(k, params.FormData[k]); err != nil {
			return fmt.Errorf("write form field %s: %w", k, err)
		}
	}

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, pkg); err != nil {
		return fmt.Errorf("copy package: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	size := int64(buf.Len())
	_, err = s.client.Execute(ctx, client.Request{
		Method:        http.MethodPost,
		URL:           params.EndpointURL,
		Anonymous:     true,
		Body:          &buf,
		ContentLength: size,
		Header:        http.Header{"Content-Type": []string{form.FormDataContentType()}},
		Accept:        client.Expect(http.StatusOK, http.StatusCreated, http.StatusNoContent),
		Service:       "s3",
	})
	if err != nil {
		return fmt.Errorf("upload appbundle package: %w", err)
	}

	s.logger.Info().Str("file", filename).Int64("size", size).Msg("App bundle package uploaded")
	return nil
}
