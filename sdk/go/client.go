package storecastsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal storecast HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. Creation runs the whole task
// fan-out before answering, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 2 * time.Minute,
	}
}

// Account is a resolved directory entry.
type Account struct {
	AccountID   string `json:"accountId"`
	StoreID     string `json:"storeId"`
	DisplayName string `json:"displayName,omitempty"`
}

// Verification is the answer to a store id check.
type Verification struct {
	FoundUsers        []Account `json:"foundUsers"`
	NotFoundIDs       []string  `json:"notFoundIds"`
	DirectoryComplete bool      `json:"directoryComplete"`
}

// ProjectFailure names a store project the task fan-out could not fill.
type ProjectFailure struct {
	StoreID   string `json:"storeId"`
	ProjectID string `json:"projectId"`
	Reason    string `json:"reason"`
}

// Created reports a finished distribution.
type Created struct {
	Success         bool             `json:"success"`
	OperationID     string           `json:"operationId"`
	ChannelID       string           `json:"channelId"`
	PostID          string           `json:"postId"`
	TaskCount       int              `json:"taskCount"`
	TasksConfirmed  int              `json:"tasksConfirmed"`
	MatchedProjects int              `json:"matchedProjects"`
	FailedProjects  []ProjectFailure `json:"failedProjects"`
	Targets         int              `json:"targets"`
	Unresolved      []string         `json:"unresolved"`
}

// CreateInput is one create submission. VerifiedUsers wins over StoreIDs.
type CreateInput struct {
	VerifiedUsers   []Account
	StoreIDs        []string
	Title           string
	Department      string
	TaskCSV         []byte
	ProfileCSV      []byte
	ProfileFilename string
}

// Distribution is one listed announcement.
type Distribution struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Department  string    `json:"department"`
	TargetCount int       `json:"targetCount"`
	CreatedAt   time.Time `json:"createdAt"`
	Status      string    `json:"status"`
	Encoding    string    `json:"encoding"`
}

// Items is a listing; Degraded means the platform could not be read.
type Items struct {
	Items    []Distribution `json:"items"`
	Degraded bool           `json:"degraded"`
	Warning  string         `json:"warning"`
}

// ItemsFilter narrows a listing. Empty fields match everything.
type ItemsFilter struct {
	Department string
	Status     string
	Query      string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Verify resolves store ids against the directory.
func (c *Client) Verify(ctx context.Context, storeIDs []string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodPost, "api/verify-users", map[string]any{"storeIds": storeIDs}, &resp)
	return resp, err
}

// Create submits a distribution as multipart form data.
func (c *Client) Create(ctx context.Context, in CreateInput) (Created, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"title":      in.Title,
		"department": in.Department,
	}
	if len(in.VerifiedUsers) > 0 {
		b, err := json.Marshal(in.VerifiedUsers)
		if err != nil {
			return Created{}, err
		}
		fields["verifiedUsers"] = string(b)
	}
	if len(in.StoreIDs) > 0 {
		b, err := json.Marshal(in.StoreIDs)
		if err != nil {
			return Created{}, err
		}
		fields["storeIds"] = string(b)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return Created{}, err
		}
	}
	if in.TaskCSV != nil {
		if err := writeFile(mw, "taskCsv", "tasks.csv", in.TaskCSV); err != nil {
			return Created{}, err
		}
	}
	if len(in.ProfileCSV) > 0 {
		name := in.ProfileFilename
		if name == "" {
			name = "profiles.csv"
		}
		if err := writeFile(mw, "profileCsv", name, in.ProfileCSV); err != nil {
			return Created{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return Created{}, err
	}
	var resp Created
	err := c.send(ctx, http.MethodPost, "api/create", mw.FormDataContentType(), &buf, &resp)
	return resp, err
}

func writeFile(mw *multipart.Writer, field, name string, data []byte) error {
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	_, err = fw.Write(data)
	return err
}

// Items lists distributions, newest first.
func (c *Client) Items(ctx context.Context, f ItemsFilter) (Items, error) {
	q := url.Values{}
	if f.Department != "" {
		q.Set("department", f.Department)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	endpoint := "api/items"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp Items
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Delete removes a distribution by channel id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "api/delete/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	contentType := ""
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		contentType = "application/json"
	}
	return c.send(ctx, method, endpoint, contentType, &buf, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
