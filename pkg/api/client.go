package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prathyushnallamothu/botforge/pkg/agent"
	"github.com/prathyushnallamothu/botforge/pkg/session"
)

// Client represents an API client
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// doJSON sends a request and decodes the JSON response into out
func (c *Client) doJSON(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// CreateSession creates a new session and returns its identifier
func (c *Client) CreateSession() (string, error) {
	var response struct {
		ID string `json:"id"`
	}
	if err := c.doJSON("POST", "/api/v1/sessions", nil, &response); err != nil {
		return "", err
	}
	return response.ID, nil
}

// GetSession returns session info
func (c *Client) GetSession(id string) (*session.Info, error) {
	var info session.Info
	if err := c.doJSON("GET", "/api/v1/sessions/"+id, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteSession removes a session
func (c *Client) DeleteSession(id string) error {
	return c.doJSON("DELETE", "/api/v1/sessions/"+id, nil, nil)
}

// Chat sends a message to a session and returns the turn outcome
func (c *Client) Chat(id, message string) (*ChatResponse, error) {
	var response ChatResponse
	if err := c.doJSON("POST", "/api/v1/sessions/"+id+"/chat", ChatRequest{Message: message}, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetFlow returns the session's current flow document
func (c *Client) GetFlow(id string) (map[string]any, error) {
	var response FlowResponse
	if err := c.doJSON("GET", "/api/v1/sessions/"+id+"/flow", nil, &response); err != nil {
		return nil, err
	}
	return response.Flow, nil
}

// SaveFlow persists the session's current flow and returns the saved path
func (c *Client) SaveFlow(id, name string) (*FlowResponse, error) {
	path := "/api/v1/sessions/" + id + "/flow/save"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}

	var response FlowResponse
	if err := c.doJSON("POST", path, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetHistory returns the session transcript
func (c *Client) GetHistory(id string) ([]session.Turn, error) {
	var response HistoryResponse
	if err := c.doJSON("GET", "/api/v1/sessions/"+id+"/history", nil, &response); err != nil {
		return nil, err
	}
	return response.Turns, nil
}

// ResetSession clears a session's transcript and flow
func (c *Client) ResetSession(id string) error {
	return c.doJSON("POST", "/api/v1/sessions/"+id+"/reset", nil, nil)
}

// Generate runs the stateless one-shot flow generation
func (c *Client) Generate(description string) (*ChatResponse, error) {
	var response ChatResponse
	if err := c.doJSON("POST", "/api/v1/generate", GenerateRequest{Description: description}, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// StreamEvents streams turn events for a session until the connection closes
// or the callback returns false
func (c *Client) StreamEvents(id string, callback func(agent.TurnEvent) bool) error {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/sessions/%s/stream", c.BaseURL, id))
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	// Convert http:// to ws:// and https:// to wss://
	if u.Scheme == "http" {
		u.Scheme = "ws"
	} else if u.Scheme == "https" {
		u.Scheme = "wss"
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	defer conn.Close()

	for {
		var event agent.TurnEvent
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		if !callback(event) {
			return nil
		}
	}
}
