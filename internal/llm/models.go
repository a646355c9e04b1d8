package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
)

// Model is one entry of the provider's model list
type Model struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

type modelList struct {
	Data []struct {
		ID        string `json:"id"`
		OwnedBy   string `json:"owned_by"`
		Available *bool  `json:"available"`
	} `json:"data"`
}

// ListModels returns the models available to the configured key, sorted by id.
// Entries explicitly marked unavailable are skipped.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if err := c.Acquire(ctx); err != nil {
		return nil, err
	}
	status, body, err := c.do(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}

	var list modelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &APIError{Kind: KindParseError, HTTPStatus: status, Message: "model list is not valid JSON", Err: err}
	}

	out := make([]Model, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID == "" || (m.Available != nil && !*m.Available) {
			continue
		}
		out = append(out, Model{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ValidateAPIKey reports whether the key is accepted. It returns nil when the
// model list can be read, the APIError otherwise.
func (c *Client) ValidateAPIKey(ctx context.Context) error {
	if err := c.Acquire(ctx); err != nil {
		return err
	}
	_, _, err := c.do(ctx, http.MethodGet, "/models", nil)
	return err
}
