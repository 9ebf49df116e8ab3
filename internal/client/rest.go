package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	ActiveSessions int    `json:"activeSessions"`
}

// Session is the summary view returned by the session endpoints.
type Session struct {
	ID           string `json:"id"`
	WorkDir      string `json:"workingDirectory"`
	Status       string `json:"status"`
	MessageCount int    `json:"messageCount"`
	LastActivity int64  `json:"lastActivityTime"`
}

// HistoryMessage is one replayed log entry.
type HistoryMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Seq       int    `json:"seq"`
}

// SessionDetail is the history-read response.
type SessionDetail struct {
	Session
	Messages []HistoryMessage `json:"messages"`
}

// Project is a discovered working directory.
type Project struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// RESTClient talks to the gateway's REST surface.
type RESTClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewRESTClient creates a client for the gateway at baseURL.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RESTClient) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func (c *RESTClient) getJSON(path string, out any) error {
	resp, err := c.do("GET", path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health checks server liveness.
func (c *RESTClient) Health() (*HealthResponse, error) {
	var out HealthResponse
	if err := c.getJSON("/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns all live sessions.
func (c *RESTClient) ListSessions() ([]Session, error) {
	var out []Session
	if err := c.getJSON("/api/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession allocates a session rooted at workDir.
func (c *RESTClient) CreateSession(workDir string) (*Session, error) {
	body, _ := json.Marshal(map[string]string{"workingDirectory": workDir})
	resp, err := c.do("POST", "/api/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create session: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var out Session
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSessionSince fetches a session with the log entries whose seq is
// strictly greater than since. This is the replay read.
func (c *RESTClient) GetSessionSince(id string, since int) (*SessionDetail, error) {
	var out SessionDetail
	path := fmt.Sprintf("/api/sessions/%s?since=%d", id, since)
	if err := c.getJSON(path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session. Idempotent.
func (c *RESTClient) DeleteSession(id string) error {
	resp, err := c.do("DELETE", "/api/sessions/"+id, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete session: status %d", resp.StatusCode)
	}
	return nil
}

// ListProjects returns the server's discovered working directories.
func (c *RESTClient) ListProjects() ([]Project, error) {
	var out []Project
	if err := c.getJSON("/api/projects", &out); err != nil {
		return nil, err
	}
	return out, nil
}
