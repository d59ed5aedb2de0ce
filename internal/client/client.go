package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"countervm/internal/api"
	"countervm/internal/engine"
	"countervm/internal/model"
	"countervm/internal/program"
)

// APIError surfaces non-2xx responses from the server.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

//nolint:errorlint
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

var ErrNotFound = errors.New("not found")

// Client talks to a countervm server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Health returns nil when the server answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
}

// CreateRecord allocates a zero-filled record of space bytes owned by owner.
func (c *Client) CreateRecord(ctx context.Context, owner model.Address, space int) (api.Record, error) {
	var out api.Record
	err := c.do(ctx, http.MethodPost, "/records", api.CreateRecordRequest{Owner: owner, Space: space}, http.StatusCreated, &out)
	return out, err
}

// GetRecord returns the record at addr; ErrNotFound when it does not exist.
func (c *Client) GetRecord(ctx context.Context, addr model.Address) (api.Record, error) {
	var out api.Record
	err := c.do(ctx, http.MethodGet, "/records/"+addr.String(), nil, http.StatusOK, &out)
	return out, err
}

// GetCounter returns the count stored at addr.
func (c *Client) GetCounter(ctx context.Context, addr model.Address) (uint32, error) {
	var out api.CounterState
	if err := c.do(ctx, http.MethodGet, "/records/"+addr.String()+"/counter", nil, http.StatusOK, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Submit sends an instruction message for execution.
func (c *Client) Submit(ctx context.Context, msg model.InstructionMessage) (engine.Receipt, error) {
	var out engine.Receipt
	err := c.do(ctx, http.MethodPost, "/transactions", msg, http.StatusOK, &out)
	return out, err
}

// Initialize lays out a fresh counter in the record at counter.
func (c *Client) Initialize(ctx context.Context, programID, counter, authority model.Address) (engine.Receipt, error) {
	return c.Submit(ctx, program.BuildInitialize(programID, counter, authority))
}

// Increment adds one to the counter at counter.
func (c *Client) Increment(ctx context.Context, programID, counter, authority model.Address) (engine.Receipt, error) {
	return c.Submit(ctx, program.BuildIncrement(programID, counter, authority))
}

func (c *Client) do(ctx context.Context, method, path string, in any, wantStatus int, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return newAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var parsed api.ErrorResponse
	if json.Unmarshal(body, &parsed) == nil {
		apiErr.Code = parsed.Code
	}
	return apiErr
}
