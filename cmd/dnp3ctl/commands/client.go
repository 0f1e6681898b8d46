package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// apiClient is a thin wrapper over the dnp3master control API
// (internal/control). It mirrors the shape of a generated RPC client —
// one method per endpoint — without code generation, since the control
// surface is plain JSON over HTTP rather than a protobuf service.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, hc *http.Client) *apiClient {
	return &apiClient{baseURL: baseURL, http: hc}
}

type associationView struct {
	Address             uint16 `json:"address"`
	Class1              bool   `json:"class1"`
	Class2              bool   `json:"class2"`
	Class3              bool   `json:"class3"`
	IntegrityPollPeriod string `json:"integrity_poll_period,omitempty"`
}

type addAssociationRequest struct {
	Address             uint16 `json:"address"`
	Class1              bool   `json:"class1"`
	Class2              bool   `json:"class2"`
	Class3              bool   `json:"class3"`
	IntegrityPollPeriod string `json:"integrity_poll_period,omitempty"`
}

type enqueueTaskRequest struct {
	Kind string `json:"kind"`
}

type setDecodeLevelRequest struct {
	Level string `json:"level"`
}

type apiError struct {
	Error string `json:"error"`
}

func (c *apiClient) ListAssociations(ctx context.Context) ([]associationView, error) {
	var views []associationView
	if err := c.do(ctx, http.MethodGet, "/associations", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *apiClient) AddAssociation(ctx context.Context, req addAssociationRequest) error {
	return c.do(ctx, http.MethodPost, "/associations", req, nil)
}

func (c *apiClient) RemoveAssociation(ctx context.Context, address uint16) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/associations/%d", address), nil, nil)
}

func (c *apiClient) EnqueueTask(ctx context.Context, address uint16, kind string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/associations/%d/tasks", address), enqueueTaskRequest{Kind: kind}, nil)
}

func (c *apiClient) SetDecodeLevel(ctx context.Context, level string) error {
	return c.do(ctx, http.MethodPut, "/decode-level", setDecodeLevelRequest{Level: level}, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
