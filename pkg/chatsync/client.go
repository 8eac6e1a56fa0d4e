package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrSessionInvalid means the server rejected the bearer token. It is
	// raised exactly once per session lifetime; re-authentication is the
	// caller's job.
	ErrSessionInvalid = errors.New("chatsync: session invalid")

	ErrNoSession    = errors.New("chatsync: no identity resolved")
	ErrNoOrder      = errors.New("chatsync: no order selected")
	ErrEmptyMessage = errors.New("chatsync: empty message")
)

const tokenExpiredCode = 40102

// Client talks the portal chat API. Every request carries the bearer token
// and the tenant header.
type Client struct {
	BaseURL    string
	Tenant     string
	HTTPClient *http.Client
}

func NewClient(baseURL, tenant string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Tenant:     tenant,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// UploadResult is the server's record of a stored attachment. The matching
// chat message arrives later through polling, not from this response.
type UploadResult struct {
	FilePath string `json:"file_path"`
	FileName string `json:"filename"`
	FileSize int64  `json:"file_size"`
}

func (c *Client) do(req *http.Request, token string) (json.RawMessage, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Tenant-ID", c.Tenant)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("chatsync: bad response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || env.Code == tokenExpiredCode {
		return nil, ErrSessionInvalid
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || env.Status != "success" {
		return nil, fmt.Errorf("chatsync: server error (%d): %s", resp.StatusCode, env.Message)
	}
	return env.Data, nil
}

// History fetches the full message log for an order, oldest first.
func (c *Client) History(ctx context.Context, token, orderID string) ([]Message, error) {
	return c.fetch(ctx, token, orderID, 0)
}

// Since fetches messages with id strictly greater than lastID.
func (c *Client) Since(ctx context.Context, token, orderID string, lastID int64) ([]Message, error) {
	return c.fetch(ctx, token, orderID, lastID)
}

func (c *Client) fetch(ctx context.Context, token, orderID string, lastID int64) ([]Message, error) {
	u := fmt.Sprintf("%s/api/orders/%s/messages", c.BaseURL, url.PathEscape(orderID))
	if lastID > 0 {
		u += "?last_id=" + strconv.FormatInt(lastID, 10)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	data, err := c.do(req, token)
	if err != nil {
		return nil, err
	}
	var raw []wireMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("chatsync: bad message list: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, w := range raw {
		out = append(out, w.toMessage())
	}
	return out, nil
}

// Send posts a text message and returns the server-assigned id.
func (c *Client) Send(ctx context.Context, token, orderID string, role Role, text string) (int64, error) {
	payload, err := json.Marshal(map[string]string{
		"message":   text,
		"user_type": string(role),
	})
	if err != nil {
		return 0, err
	}
	u := fmt.Sprintf("%s/api/orders/%s/messages", c.BaseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(req, token)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("chatsync: bad send response: %w", err)
	}
	return resp.ID, nil
}

// Upload streams one file as an order attachment. The multipart body is
// produced concurrently through a pipe; scan and model files can be large
// and never sit in memory whole.
func (c *Client) Upload(ctx context.Context, token, orderID, fileName string, r io.Reader) (*UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(fw, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	u := fmt.Sprintf("%s/api/orders/%s/attachments", c.BaseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	data, err := c.do(req, token)
	if err != nil {
		return nil, err
	}
	var res UploadResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("chatsync: bad upload response: %w", err)
	}
	return &res, nil
}

// DownloadURL builds the same-origin download link for a stored attachment
// path. The actual GET is left to whatever renders the affordance.
func (c *Client) DownloadURL(path string) string {
	return c.BaseURL + "/api/files/" + url.PathEscape(path)
}
