// Package search wraps the Elasticsearch client with the write-path
// operations the indexer needs: index administration, bulk writes and atomic
// alias updates. Postgres remains the source of truth; the indices managed
// here are a read-optimised projection.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ErrEngineInactive is returned when the engine did not answer the health
// probe. Callers treat search-based features as disabled instead of failing
// hard.
var ErrEngineInactive = errors.New("search: engine inactive")

// Client wraps the Elasticsearch client with domain-level operations.
type Client struct {
	es *elasticsearch.Client

	// Cached availability probe. The engine is pinged at most once per
	// process, so ordinary operations never pay for a health check.
	activeOnce sync.Once
	active     bool
}

// New creates an Elasticsearch client pointed at the given hosts.
func New(hosts []string) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: hosts,
	}
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("search: create client: %w", err)
	}
	return &Client{es: es}, nil
}

// Active reports whether the engine answered a ping. The result is cached
// for the lifetime of the client.
func (c *Client) Active(ctx context.Context) bool {
	c.activeOnce.Do(func() {
		res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
		if err != nil {
			slog.Warn("engine ping failed", "error", err)
			return
		}
		defer res.Body.Close()
		c.active = !res.IsError()
	})
	return c.active
}

// CreateIndex creates a new physical index with the given settings and
// mapping. Fails if the index already exists.
func (c *Client) CreateIndex(ctx context.Context, name string, settings, mappings map[string]any) error {
	body, err := encode(map[string]any{"settings": settings, "mappings": mappings})
	if err != nil {
		return err
	}
	res, err := c.es.Indices.Create(name,
		c.es.Indices.Create.WithBody(body),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: create index %s: %w", name, err)
	}
	return drain("create index", res)
}

// CloseIndex closes an index so analysis settings can be replaced.
func (c *Client) CloseIndex(ctx context.Context, name string) error {
	res, err := c.es.Indices.Close([]string{name}, c.es.Indices.Close.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: close index %s: %w", name, err)
	}
	return drain("close index", res)
}

// OpenIndex reopens a closed index.
func (c *Client) OpenIndex(ctx context.Context, name string) error {
	res, err := c.es.Indices.Open([]string{name}, c.es.Indices.Open.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: open index %s: %w", name, err)
	}
	return drain("open index", res)
}

// PutSettings updates dynamic settings of an existing index.
func (c *Client) PutSettings(ctx context.Context, name string, settings map[string]any) error {
	body, err := encode(settings)
	if err != nil {
		return err
	}
	res, err := c.es.Indices.PutSettings(body,
		c.es.Indices.PutSettings.WithIndex(name),
		c.es.Indices.PutSettings.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: put settings %s: %w", name, err)
	}
	return drain("put settings", res)
}

// PutMapping updates the mapping of an existing index.
func (c *Client) PutMapping(ctx context.Context, name string, mappings map[string]any) error {
	body, err := encode(mappings)
	if err != nil {
		return err
	}
	res, err := c.es.Indices.PutMapping([]string{name}, body,
		c.es.Indices.PutMapping.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: put mapping %s: %w", name, err)
	}
	return drain("put mapping", res)
}

// DeleteIndex removes a physical index.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	res, err := c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: delete index %s: %w", name, err)
	}
	return drain("delete index", res)
}

// Refresh makes recent writes visible to search.
func (c *Client) Refresh(ctx context.Context, name string) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithIndex(name),
		c.es.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: refresh %s: %w", name, err)
	}
	return drain("refresh", res)
}

// ForceMerge compacts the index segments after a full population.
func (c *Client) ForceMerge(ctx context.Context, name string) error {
	res, err := c.es.Indices.Forcemerge(
		c.es.Indices.Forcemerge.WithIndex(name),
		c.es.Indices.Forcemerge.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: force merge %s: %w", name, err)
	}
	return drain("force merge", res)
}

// Stats returns the raw stats document of an index.
func (c *Client) Stats(ctx context.Context, name string) (json.RawMessage, error) {
	res, err := c.es.Indices.Stats(
		c.es.Indices.Stats.WithIndex(name),
		c.es.Indices.Stats.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("search: stats %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search: stats error [%s]: %s", res.Status(), body)
	}
	return io.ReadAll(res.Body)
}

// AliasAction is one entry of an atomic alias update.
type AliasAction map[string]map[string]string

// AddAlias builds an "add" alias action.
func AddAlias(index, alias string) AliasAction {
	return AliasAction{"add": {"index": index, "alias": alias}}
}

// RemoveAlias builds a "remove" alias action.
func RemoveAlias(index, alias string) AliasAction {
	return AliasAction{"remove": {"index": index, "alias": alias}}
}

// UpdateAliases applies all actions in one atomic call. Swapping an alias is
// always one request carrying both the add and the removes, so there is no
// window where zero or two indices are live.
func (c *Client) UpdateAliases(ctx context.Context, actions []AliasAction) error {
	body, err := encode(map[string]any{"actions": actions})
	if err != nil {
		return err
	}
	res, err := c.es.Indices.UpdateAliases(body, c.es.Indices.UpdateAliases.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: update aliases: %w", err)
	}
	return drain("update aliases", res)
}

// AliasIndices lists the physical indices an alias currently points at.
// A missing alias yields an empty list, not an error: before the first full
// rebuild no index exists yet.
func (c *Client) AliasIndices(ctx context.Context, alias string) ([]string, error) {
	res, err := c.es.Indices.GetAlias(
		c.es.Indices.GetAlias.WithName(alias),
		c.es.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("search: get alias %s: %w", alias, err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		io.Copy(io.Discard, res.Body)
		return nil, nil
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search: get alias error [%s]: %s", res.Status(), body)
	}

	var byIndex map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&byIndex); err != nil {
		return nil, fmt.Errorf("search: decode alias response: %w", err)
	}
	indices := make([]string, 0, len(byIndex))
	for name := range byIndex {
		indices = append(indices, name)
	}
	return indices, nil
}

// Bulk executes one pre-encoded NDJSON bulk body and fails if any item was
// rejected. Calls are fire-and-wait: there is no internal queue or retry,
// the caller decides what a failure aborts.
func (c *Client) Bulk(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	res, err := c.es.Bulk(bytes.NewReader(body), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search: bulk error [%s]: %s", res.Status(), raw)
	}

	var report struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&report); err != nil {
		return fmt.Errorf("search: decode bulk response: %w", err)
	}
	if !report.Errors {
		return nil
	}
	for _, item := range report.Items {
		for op, result := range item {
			// A delete of an absent document reports 404 but is not a
			// failure for our purposes.
			if result.Error != nil && result.Status != 404 {
				return fmt.Errorf("search: bulk %s %s failed [%d]: %s %s",
					op, result.ID, result.Status, result.Error.Type, result.Error.Reason)
			}
		}
	}
	return nil
}

func encode(v any) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("search: encode body: %w", err)
	}
	return &buf, nil
}

func drain(op string, res *esapi.Response) error {
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search: %s error [%s]: %s", op, res.Status(), body)
	}
	io.Copy(io.Discard, res.Body)
	return nil
}
