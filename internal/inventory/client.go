package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bloomstock/backoffice/internal/pkg/httpretry"
)

// Client talks to the catalog service that owns flower and variant
// documents. The import pipeline and price reconciliation never touch
// the catalog store directly; everything goes through this API.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a new catalog API client
func NewClient(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: timeout,
		}, 3),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// doRequest performs an authenticated request against the catalog API.
// A 404 returns (nil, nil) so lookups can distinguish "missing" from
// transport failure.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("catalog API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// FindFlowerBySlug looks up a flower by its slug. Returns (nil, nil)
// when no flower carries the slug.
func (c *Client) FindFlowerBySlug(ctx context.Context, slug string) (*Flower, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/flowers?slug="+url.QueryEscape(slug), nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var flowers []Flower
	if err := json.Unmarshal(body, &flowers); err != nil {
		return nil, fmt.Errorf("parse flowers response: %w", err)
	}
	if len(flowers) == 0 {
		return nil, nil
	}
	return &flowers[0], nil
}

// FindVariant looks up the variant of a flower at the given stem
// length. Returns (nil, nil) when absent.
func (c *Client) FindVariant(ctx context.Context, flowerID string, length int) (*Variant, error) {
	endpoint := "/flowers/" + url.PathEscape(flowerID) + "/variants?length=" + strconv.Itoa(length)
	body, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var variants []Variant
	if err := json.Unmarshal(body, &variants); err != nil {
		return nil, fmt.Errorf("parse variants response: %w", err)
	}
	if len(variants) == 0 {
		return nil, nil
	}
	return &variants[0], nil
}

// CreateFlower creates a new flower document and returns it with the
// documentId assigned by the catalog service.
func (c *Client) CreateFlower(ctx context.Context, f Flower) (*Flower, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/flowers", f)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("catalog API returned 404 for flower create")
	}

	var created Flower
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("parse create flower response: %w", err)
	}
	return &created, nil
}

// CreateVariant creates a new variant document.
func (c *Client) CreateVariant(ctx context.Context, v Variant) (*Variant, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/variants", v)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("catalog API returned 404 for variant create")
	}

	var created Variant
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("parse create variant response: %w", err)
	}
	return &created, nil
}

// UpdateFlower applies a partial update to a flower document.
func (c *Client) UpdateFlower(ctx context.Context, documentID string, patch FlowerPatch) (*Flower, error) {
	body, err := c.doRequest(ctx, http.MethodPatch, "/flowers/"+url.PathEscape(documentID), patch)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("flower %s not found", documentID)
	}

	var updated Flower
	if err := json.Unmarshal(body, &updated); err != nil {
		return nil, fmt.Errorf("parse update flower response: %w", err)
	}
	return &updated, nil
}

// UpdateVariant applies a partial update to a variant document.
func (c *Client) UpdateVariant(ctx context.Context, documentID string, patch VariantPatch) (*Variant, error) {
	body, err := c.doRequest(ctx, http.MethodPatch, "/variants/"+url.PathEscape(documentID), patch)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("variant %s not found", documentID)
	}

	var updated Variant
	if err := json.Unmarshal(body, &updated); err != nil {
		return nil, fmt.Errorf("parse update variant response: %w", err)
	}
	return &updated, nil
}
