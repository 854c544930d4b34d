package doip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/kirillkom/pidsync/internal/core/domain"
	"github.com/kirillkom/pidsync/internal/infrastructure/remote"
)

type attributes struct {
	Content map[string]any `json:"content"`
}

type digitalObject struct {
	ID         string     `json:"id,omitempty"`
	Type       string     `json:"type,omitempty"`
	Attributes attributes `json:"attributes"`
}

// toDomain fills gaps in a possibly empty response from the request object.
func (o digitalObject) toDomain(fallback domain.RegistryObject) *domain.RegistryObject {
	out := &domain.RegistryObject{
		ID:      o.ID,
		Type:    o.Type,
		Content: o.Attributes.Content,
	}
	if out.ID == "" {
		out.ID = fallback.ID
	}
	if out.Type == "" {
		out.Type = fallback.Type
	}
	if out.Content == nil {
		out.Content = fallback.Content
	}
	return out
}

type operation struct {
	name        string
	operationID string
	targetID    string
	objectID    string
	params      url.Values
	body        any
	out         any
}

func (c *Client) execute(ctx context.Context, token string, op operation) error {
	call := func(callCtx context.Context) error {
		return c.post(callCtx, token, op)
	}

	var err error
	if c.guard != nil {
		err = c.guard.Do(ctx, op.name, call, remote.Classify)
	} else {
		err = call(ctx)
	}
	if err == nil {
		return nil
	}

	err = remote.WrapBreakerError(serviceName, op.name, err)
	target := op.targetID
	if op.objectID != "" {
		target = op.objectID
	}
	statusErr, isStatus := remote.AsStatusError(err)
	switch {
	case isStatus && (statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusConflict):
		slog.Debug("registry_request_answered",
			"operation", op.name,
			"target_id", target,
			"status", statusErr.StatusCode,
		)
	case isStatus:
		slog.Warn("registry_request_failed",
			"operation", op.name,
			"target_id", target,
			"status", statusErr.StatusCode,
			"body", statusErr.Body,
		)
	default:
		slog.Warn("registry_request_failed",
			"operation", op.name,
			"target_id", target,
			"error", err,
		)
	}
	return err
}

func (c *Client) post(ctx context.Context, token string, op operation) error {
	params := url.Values{}
	for key, values := range op.params {
		params[key] = values
	}
	params.Set("operationId", op.operationID)
	params.Set("targetId", op.targetID)

	var reader io.Reader
	if op.body != nil {
		payload, err := json.Marshal(op.body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op.name, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/doip?"+params.Encode(), reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if op.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return remote.TransportError(serviceName, op.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remote.NewStatusError(serviceName, op.name, op.targetID, resp)
	}
	if op.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return remote.TransportError(serviceName, op.name, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, op.out); err != nil {
		return fmt.Errorf("decode %s response: %w", op.name, err)
	}
	return nil
}
