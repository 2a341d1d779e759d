package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIClient implements the LLM client interface for OpenAI
type OpenAIClient struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    "https://api.openai.com/v1",
		Timeout:    60 * time.Second,
		HTTPClient: &http.Client{},
	}
}

// WithTimeout sets the timeout for API requests
func (c *OpenAIClient) WithTimeout(timeout time.Duration) *OpenAIClient {
	c.Timeout = timeout
	return c
}

// WithBaseURL sets a custom base URL for API requests
func (c *OpenAIClient) WithBaseURL(baseURL string) *OpenAIClient {
	c.BaseURL = baseURL
	return c
}

// GetModelName returns the name of the model being used
func (c *OpenAIClient) GetModelName() string {
	return c.Model
}

// GetProvider returns the name of the LLM provider
func (c *OpenAIClient) GetProvider() string {
	return "openai"
}

// ChatCompletion generates a chat completion using the OpenAI API
func (c *OpenAIClient) ChatCompletion(ctx context.Context, request *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	// Override the model with the client's model
	request.Model = c.Model

	ctxWithTimeout, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.BaseURL)
	req, err := http.NewRequestWithContext(ctxWithTimeout, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}

		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return nil, fmt.Errorf("OpenAI API error (%s): %s", errorResp.Error.Type, errorResp.Error.Message)
		}

		return nil, fmt.Errorf("OpenAI API returned status code %d: %s", resp.StatusCode, string(body))
	}

	var response ChatCompletionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &response, nil
}
