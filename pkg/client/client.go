// Package client talks to an agentx server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/events"
	"github.com/nstogner/agentx/pkg/sandbox"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client is an agentx API client.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(b, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(b))
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}

// CreateProject creates a project. An empty name lets the server pick one.
func (c *Client) CreateProject(ctx context.Context, name string) (*domain.Project, error) {
	var p domain.Project
	if err := c.do(ctx, http.MethodPost, "/api/projects", map[string]string{"name": name}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var ps []domain.Project
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// Project returns a project with its messages.
func (c *Client) Project(ctx context.Context, id string) (*domain.ProjectDetails, error) {
	var d domain.ProjectDetails
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Models(ctx context.Context) ([]domain.Model, error) {
	var ms []domain.Model
	if err := c.do(ctx, http.MethodGet, "/api/models", nil, &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

// SandboxFiles lists the project's sandbox below path.
func (c *Client) SandboxFiles(ctx context.Context, id, path string, depth int) ([]sandbox.Entry, error) {
	q := url.Values{"path": {path}, "depth": {strconv.Itoa(depth)}}
	var es []sandbox.Entry
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id)+"/sandbox/files?"+q.Encode(), nil, &es); err != nil {
		return nil, err
	}
	return es, nil
}

// SandboxFile reads one file from the project's sandbox.
func (c *Client) SandboxFile(ctx context.Context, id, path string) (*sandbox.File, error) {
	q := url.Values{"path": {path}}
	var f sandbox.File
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id)+"/sandbox/file?"+q.Encode(), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Chat submits message and calls fn for every frame as it arrives. It
// returns the terminal frame.
func (c *Client) Chat(ctx context.Context, id, message string, fn func(events.Frame)) (*events.Frame, error) {
	b, _ := json.Marshal(map[string]string{"message": message})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/projects/"+url.PathEscape(id)+"/chat", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var last *events.Frame
	err = events.ReadFrames(resp.Body, func(f events.Frame) error {
		if fn != nil {
			fn(f)
		}
		if f.Action.Terminal() {
			last = &f
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading event stream: %w", err)
	}
	if last == nil {
		return nil, errors.New("event stream ended without a terminal frame")
	}
	return last, nil
}

// Watch streams frames of every run of a project until ctx is done or the
// connection drops.
func (c *Client) Watch(ctx context.Context, id string, fn func(events.Frame)) error {
	u, err := url.Parse(c.base + "/api/projects/" + url.PathEscape(id) + "/events")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if apiErr := checkResponse(resp); apiErr != nil {
				return apiErr
			}
		}
		return err
	}
	defer ws.Close()

	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	for {
		var f events.Frame
		if err := ws.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		fn(f)
	}
}
