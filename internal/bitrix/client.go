// internal/bitrix/client.go
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"sheetsync-service/internal/engine"
)

// fieldsCacheTTL is how long one entity type's field metadata stays
// valid before the next call re-fetches it.
const fieldsCacheTTL = 24 * time.Hour

// Client talks to a Bitrix24-style REST endpoint. The base URL already
// carries the inbound webhook token, method calls are appended to it:
// <base>/crm.deal.update etc.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu          sync.RWMutex
	fieldsCache map[string]cachedFields
}

type cachedFields struct {
	fields    map[string]engine.FieldMeta
	fetchedAt time.Time
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		fieldsCache: map[string]cachedFields{},
	}
}

// apiResponse is the common Bitrix envelope. Business errors come back
// as HTTP 200 with error/error_description set, or with a falsy result.
type apiResponse struct {
	Result           json.RawMessage `json:"result"`
	ErrorCode        string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (*apiResponse, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, method)
}

// callGet is for parameterless lookups such as <entity-type>.fields.
func (c *Client) callGet(ctx context.Context, method string) (*apiResponse, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req, method)
}

func (c *Client) send(req *http.Request, method string) (*apiResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitrix %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bitrix %s: read body: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("❌ [BITRIX] %s returned %d: %s", method, resp.StatusCode, string(raw))
		return nil, fmt.Errorf("bitrix %s: status %d: %s", method, resp.StatusCode, string(raw))
	}

	var api apiResponse
	if err := json.Unmarshal(raw, &api); err != nil {
		return nil, fmt.Errorf("bitrix %s: unmarshal: %w", method, err)
	}
	if api.ErrorCode != "" {
		if strings.Contains(strings.ToLower(api.ErrorDescription), "not found") ||
			api.ErrorCode == "NOT_FOUND" {
			return nil, engine.ErrEntityNotFound
		}
		return nil, fmt.Errorf("bitrix %s: %s (%s)", method, api.ErrorDescription, api.ErrorCode)
	}
	return &api, nil
}

// UpdateEntity POSTs <entity-type>.update with {id, fields}. Success is
// HTTP 200 plus a truthy result; anything else is a failure.
func (c *Client) UpdateEntity(ctx context.Context, entityType, id string, fields map[string]interface{}) error {
	api, err := c.call(ctx, entityType+".update", map[string]interface{}{
		"id":     id,
		"fields": fields,
	})
	if err != nil {
		return err
	}

	var result bool
	if err := json.Unmarshal(api.Result, &result); err != nil {
		// Some portals answer with 1/0 instead of booleans.
		var n float64
		if err2 := json.Unmarshal(api.Result, &n); err2 != nil {
			return fmt.Errorf("bitrix %s.update: unexpected result %s", entityType, string(api.Result))
		}
		result = n != 0
	}
	if !result {
		return fmt.Errorf("bitrix %s.update: entity %s rejected", entityType, id)
	}
	return nil
}

// GetEntity fetches the live entity. A missing entity is reported as
// engine.ErrEntityNotFound so the conflict stage can classify it.
func (c *Client) GetEntity(ctx context.Context, entityType, id string) (map[string]interface{}, error) {
	api, err := c.call(ctx, entityType+".get", map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}

	if len(api.Result) == 0 || string(api.Result) == "null" || string(api.Result) == "false" {
		return nil, engine.ErrEntityNotFound
	}

	var entity map[string]interface{}
	if err := json.Unmarshal(api.Result, &entity); err != nil {
		return nil, fmt.Errorf("bitrix %s.get: unmarshal result: %w", entityType, err)
	}
	return entity, nil
}

// fieldDescription mirrors the per-field block of <entity-type>.fields.
type fieldDescription struct {
	Type        string `json:"type"`
	IsReadOnly  bool   `json:"isReadOnly"`
	IsImmutable bool   `json:"isImmutable"`
	IsComputed  bool   `json:"isComputed"`
}

// FieldMetadata returns the per-field read-only/immutable/computed flags,
// cached per entity type for 24h. force bypasses the cache.
func (c *Client) FieldMetadata(ctx context.Context, entityType string, force bool) (map[string]engine.FieldMeta, error) {
	if !force {
		c.mu.RLock()
		cached, ok := c.fieldsCache[entityType]
		c.mu.RUnlock()
		if ok && time.Since(cached.fetchedAt) < fieldsCacheTTL {
			return cached.fields, nil
		}
	}

	api, err := c.callGet(ctx, entityType+".fields")
	if err != nil {
		return nil, err
	}

	var raw map[string]fieldDescription
	if err := json.Unmarshal(api.Result, &raw); err != nil {
		return nil, fmt.Errorf("bitrix %s.fields: unmarshal result: %w", entityType, err)
	}

	fields := make(map[string]engine.FieldMeta, len(raw))
	for name, d := range raw {
		fields[name] = engine.FieldMeta{
			Type:      d.Type,
			ReadOnly:  d.IsReadOnly,
			Immutable: d.IsImmutable,
			Computed:  d.IsComputed,
		}
	}

	c.mu.Lock()
	c.fieldsCache[entityType] = cachedFields{fields: fields, fetchedAt: time.Now()}
	c.mu.Unlock()

	log.Printf("📇 [BITRIX] Cached %d field descriptions for %s", len(fields), entityType)
	return fields, nil
}
