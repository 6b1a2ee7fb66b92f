// Package registry holds the read-only HTTP adapters this engine consumes:
// the artifact registry, the structured content store and the classification
// source. All reads are time-bounded; a failed read surfaces as an
// AdapterError so evaluators can degrade instead of failing.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mquevedo/evalflow/internal/process"
)

// defaultTimeout bounds every adapter read.
const defaultTimeout = 5 * time.Second

// AdapterError wraps a failed external read with the adapter name.
type AdapterError struct {
	Adapter string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s unavailable: %v", e.Adapter, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Client is the shared HTTP plumbing for the three adapters.
type Client struct {
	base string
	http *http.Client
}

func newClient(baseURL string) *Client {
	return &Client{base: baseURL, http: &http.Client{Timeout: defaultTimeout}}
}

func (c *Client) getJSON(ctx context.Context, adapter, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return &AdapterError{Adapter: adapter, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &AdapterError{Adapter: adapter, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &AdapterError{Adapter: adapter, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &AdapterError{Adapter: adapter, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// ArtifactClient reads submitted-artifact existence from the external
// registry.
type ArtifactClient struct {
	*Client
}

// NewArtifactClient points at the artifact registry service.
func NewArtifactClient(baseURL string) *ArtifactClient {
	return &ArtifactClient{newClient(baseURL)}
}

// Has reports whether the project submitted an artifact of the category.
func (c *ArtifactClient) Has(ctx context.Context, projectID, categoryCode string) (bool, error) {
	var body struct {
		Exists bool `json:"exists"`
	}
	path := fmt.Sprintf("/projects/%s/artifacts/%s",
		url.PathEscape(projectID), url.PathEscape(categoryCode))
	if err := c.getJSON(ctx, "artifact-registry", path, &body); err != nil {
		return false, err
	}
	return body.Exists, nil
}

// ContentClient reads the structured content snapshot used by the
// consistency engine.
type ContentClient struct {
	*Client
}

// NewContentClient points at the content store service.
func NewContentClient(baseURL string) *ContentClient {
	return &ContentClient{newClient(baseURL)}
}

// Fields returns the project's field snapshot keyed "chapter/section/field".
func (c *ContentClient) Fields(ctx context.Context, projectID string) (map[string]any, error) {
	var body struct {
		Fields map[string]any `json:"fields"`
	}
	path := "/projects/" + url.PathEscape(projectID) + "/content"
	if err := c.getJSON(ctx, "content-store", path, &body); err != nil {
		return nil, err
	}
	return body.Fields, nil
}

// ClassificationClient reads a project's classification attributes from the
// surrounding application.
type ClassificationClient struct {
	*Client
}

// NewClassificationClient points at the classification source.
func NewClassificationClient(baseURL string) *ClassificationClient {
	return &ClassificationClient{newClient(baseURL)}
}

// Classification returns the project's category, sub-category and chosen
// instrument.
func (c *ClassificationClient) Classification(ctx context.Context, projectID string) (process.Classification, process.Instrument, error) {
	var body struct {
		Category    string `json:"category"`
		SubCategory string `json:"sub_category"`
		Instrument  string `json:"instrument"`
	}
	path := "/projects/" + url.PathEscape(projectID) + "/classification"
	if err := c.getJSON(ctx, "classification-source", path, &body); err != nil {
		return process.Classification{}, "", err
	}
	instrument := process.Instrument(body.Instrument)
	if !instrument.Valid() {
		return process.Classification{}, "", &AdapterError{
			Adapter: "classification-source",
			Err:     fmt.Errorf("unknown instrument %q", body.Instrument),
		}
	}
	return process.Classification{Category: body.Category, SubCategory: body.SubCategory}, instrument, nil
}
