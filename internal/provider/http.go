package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider type names accepted by the registry.
const (
	TypeLooker  = "looker"
	TypeRedash  = "redash"
	TypeDataHub = "datahub"
	TypeS3      = "s3"
)

const httpTimeout = 30 * time.Second

func configString(config map[string]any, key string) (string, error) {
	v, ok := config[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing config field %q", key)
	}
	return v, nil
}

// doJSON performs one JSON request and decodes the response body. A nil
// body sends no payload; a nil out discards it.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// LookerClient talks to the Looker REST API.
type LookerClient struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewLookerClient creates an uninitialized Looker client.
func NewLookerClient() *LookerClient {
	return &LookerClient{http: &http.Client{Timeout: httpTimeout}}
}

func (c *LookerClient) Initialize(ctx context.Context, config map[string]any) error {
	baseURL, err := configString(config, "base_url")
	if err != nil {
		return err
	}
	clientID, err := configString(config, "client_id")
	if err != nil {
		return err
	}
	clientSecret, err := configString(config, "client_secret")
	if err != nil {
		return err
	}
	c.baseURL = strings.TrimRight(baseURL, "/")

	var login struct {
		AccessToken string `json:"access_token"`
	}
	url := fmt.Sprintf("%s/api/4.0/login?client_id=%s&client_secret=%s", c.baseURL, clientID, clientSecret)
	if err := doJSON(ctx, c.http, http.MethodPost, url, nil, nil, &login); err != nil {
		return err
	}
	if login.AccessToken == "" {
		return errors.New("looker login returned no token")
	}
	c.token = login.AccessToken
	return nil
}

func (c *LookerClient) Call(ctx context.Context, operation string, args map[string]any) (any, error) {
	headers := map[string]string{"Authorization": "token " + c.token}
	switch operation {
	case "me":
		var out map[string]any
		err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/api/4.0/me", headers, nil, &out)
		return out, err
	case "run_inline_query":
		var out any
		err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+"/api/4.0/queries/run/json", headers, args["query"], &out)
		return out, err
	default:
		return nil, fmt.Errorf("looker %q: %w", operation, ErrUnknownOperation)
	}
}

func (c *LookerClient) Cleanup() error {
	if c.token == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	headers := map[string]string{"Authorization": "token " + c.token}
	// Best effort; the token expires server-side regardless.
	_ = doJSON(ctx, c.http, http.MethodDelete, c.baseURL+"/api/4.0/logout", headers, nil, nil)
	c.token = ""
	return nil
}

// RedashClient talks to the Redash REST API.
type RedashClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewRedashClient creates an uninitialized Redash client.
func NewRedashClient() *RedashClient {
	return &RedashClient{http: &http.Client{Timeout: httpTimeout}}
}

func (c *RedashClient) Initialize(_ context.Context, config map[string]any) error {
	baseURL, err := configString(config, "base_url")
	if err != nil {
		return err
	}
	apiKey, err := configString(config, "api_key")
	if err != nil {
		return err
	}
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.apiKey = apiKey
	return nil
}

func (c *RedashClient) Call(ctx context.Context, operation string, args map[string]any) (any, error) {
	headers := map[string]string{"Authorization": "Key " + c.apiKey}
	switch operation {
	case "list_queries":
		var out map[string]any
		err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/api/queries", headers, nil, &out)
		return out, err
	case "get_query_results":
		queryID, ok := args["query_id"]
		if !ok {
			return nil, errors.New("redash get_query_results: query_id is required")
		}
		var out map[string]any
		url := fmt.Sprintf("%s/api/queries/%v/results", c.baseURL, queryID)
		err := doJSON(ctx, c.http, http.MethodGet, url, headers, nil, &out)
		return out, err
	default:
		return nil, fmt.Errorf("redash %q: %w", operation, ErrUnknownOperation)
	}
}

func (c *RedashClient) Cleanup() error {
	c.apiKey = ""
	return nil
}

// DataHubClient talks to DataHub's GraphQL endpoint.
type DataHubClient struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewDataHubClient creates an uninitialized DataHub client.
func NewDataHubClient() *DataHubClient {
	return &DataHubClient{http: &http.Client{Timeout: httpTimeout}}
}

func (c *DataHubClient) Initialize(_ context.Context, config map[string]any) error {
	baseURL, err := configString(config, "base_url")
	if err != nil {
		return err
	}
	c.baseURL = strings.TrimRight(baseURL, "/")
	// The token is optional for open deployments.
	if token, ok := config["token"].(string); ok {
		c.token = token
	}
	return nil
}

func (c *DataHubClient) Call(ctx context.Context, operation string, args map[string]any) (any, error) {
	headers := map[string]string{}
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}
	switch operation {
	case "graphql":
		query, ok := args["query"].(string)
		if !ok || query == "" {
			return nil, errors.New("datahub graphql: query is required")
		}
		var out map[string]any
		body := map[string]any{"query": query, "variables": args["variables"]}
		err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+"/api/graphql", headers, body, &out)
		return out, err
	default:
		return nil, fmt.Errorf("datahub %q: %w", operation, ErrUnknownOperation)
	}
}

func (c *DataHubClient) Cleanup() error {
	c.token = ""
	return nil
}
