package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	WebhookURL string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// HTTPClient talks to a GPU task provider exposing a task submission endpoint
// and an operation status endpoint. Tasks are acknowledged synchronously with
// a correlation id; completion arrives on the configured webhook, or by
// polling when the provider answers with an operation name instead.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	webhookURL string
}

func NewHTTPClient(opts Options) *HTTPClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
		webhookURL: strings.TrimSpace(opts.WebhookURL),
	}
}

type submitRequest struct {
	RequestID  string          `json:"request_id"`
	ToolType   string          `json:"tool_type"`
	Payload    json.RawMessage `json:"payload"`
	WebhookURL string          `json:"webhook_url,omitempty"`
}

type submitResponse struct {
	TaskID    string `json:"task_id"`
	Operation string `json:"operation"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (c *HTTPClient) SubmitTask(ctx context.Context, req TaskRequest) (TaskHandle, error) {
	if c.token == "" {
		return TaskHandle{}, errors.New("compute: API key is missing")
	}
	body, err := json.Marshal(submitRequest{
		RequestID:  req.JobID.String(),
		ToolType:   req.ToolType,
		Payload:    req.Payload,
		WebhookURL: req.WebhookURL,
	})
	if err != nil {
		return TaskHandle{}, err
	}
	endpoint := c.baseURL + "/v1/tasks"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return TaskHandle{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TaskHandle{}, err
	}
	defer resp.Body.Close()

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return TaskHandle{}, fmt.Errorf("compute: http %d", resp.StatusCode)
		}
		return TaskHandle{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return TaskHandle{}, fmt.Errorf("compute error: %s (%s)", out.Message, out.Code)
		}
		return TaskHandle{}, fmt.Errorf("compute: http %d", resp.StatusCode)
	}

	switch {
	case out.TaskID != "":
		return TaskHandle{Ref: out.TaskID, RequiresPoll: c.webhookURL == "" && req.WebhookURL == ""}, nil
	case out.Operation != "":
		return TaskHandle{Ref: out.Operation, RequiresPoll: true}, nil
	}
	return TaskHandle{}, errors.New("compute: response carried no correlation reference")
}

type operationResponse struct {
	Done      bool   `json:"done"`
	Status    string `json:"status"`
	OutputURL string `json:"output_url"`
	ErrorMsg  string `json:"error_message"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (c *HTTPClient) CheckOperation(ctx context.Context, ref string) (Operation, error) {
	if c.token == "" {
		return Operation{}, errors.New("compute: API key is missing")
	}
	endpoint := c.baseURL + "/v1/operations/" + url.PathEscape(ref)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Operation{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Operation{}, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	var out operationResponse
	if err := json.NewDecoder(io.TeeReader(resp.Body, &buf)).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return Operation{}, fmt.Errorf("compute: http %d", resp.StatusCode)
		}
		return Operation{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return Operation{}, fmt.Errorf("compute error: %s (%s)", out.Message, out.Code)
		}
		return Operation{}, fmt.Errorf("compute: http %d", resp.StatusCode)
	}

	op := Operation{
		Done:      out.Done,
		Succeeded: out.Done && out.ErrorMsg == "",
		OutputURL: out.OutputURL,
		Error:     out.ErrorMsg,
		Raw:       json.RawMessage(bytes.TrimSpace(buf.Bytes())),
	}
	if strings.EqualFold(out.Status, "failed") {
		op.Done = true
		op.Succeeded = false
		if op.Error == "" {
			op.Error = "task failed"
		}
	}
	return op, nil
}

var _ Client = (*HTTPClient)(nil)
