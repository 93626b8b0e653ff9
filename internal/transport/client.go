// Package transport implements the HTTP client for the sync server.
package transport

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
	"time"

	"github.com/MarcoPoloResearchLab/spaced/internal/oplog"
)

const defaultRequestTimeout = 30 * time.Second

var (
	errMissingBaseURL = errors.New("transport: base url required")
	errMissingToken   = errors.New("transport: bearer token required")
)

// Credentials identify a registered client.
type Credentials struct {
	ClientID    string
	AccessToken string
	// ExpiresInSeconds is the token lifetime reported at registration.
	ExpiresInSeconds int64
}

// ClientConfig describes a sync client.
type ClientConfig struct {
	// BaseURL is the server root, e.g. "https://sync.example.com".
	BaseURL string
	// AccessToken authenticates push and pull; empty until Register.
	AccessToken string
	HTTPClient  *http.Client
}

// Client talks to the sync server over HTTP. It satisfies syncer.Transport.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient validates the config and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("transport: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.AccessToken,
		httpClient: httpClient,
	}, nil
}

// SetAccessToken installs the bearer token for subsequent requests.
func (c *Client) SetAccessToken(token string) {
	c.token = token
}

type registerResponse struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Register obtains a client id and bearer token from the server and installs
// the token on the client.
func (c *Client) Register(ctx context.Context) (Credentials, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/clients", nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("build register request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return Credentials{}, fmt.Errorf("register client: %w", err)
	}
	defer drainAndClose(response.Body)

	if response.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("register client: %s", statusError(response))
	}

	var payload registerResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return Credentials{}, fmt.Errorf("decode register response: %w", err)
	}
	if payload.ClientID == "" || payload.AccessToken == "" {
		return Credentials{}, errors.New("transport: incomplete register response")
	}

	c.token = payload.AccessToken
	return Credentials{
		ClientID:         payload.ClientID,
		AccessToken:      payload.AccessToken,
		ExpiresInSeconds: payload.ExpiresIn,
	}, nil
}

type pushRequest struct {
	Operations []json.RawMessage `json:"operations"`
}

// Push uploads local operations in wire envelope form.
func (c *Client) Push(ctx context.Context, ops []oplog.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	if c.token == "" {
		return errMissingToken
	}

	envelopes := make([]json.RawMessage, 0, len(ops))
	for _, op := range ops {
		encoded, err := oplog.Encode(op)
		if err != nil {
			return fmt.Errorf("encode %s operation: %w", op.OperationKind(), err)
		}
		envelopes = append(envelopes, json.RawMessage(encoded))
	}
	body, err := json.Marshal(pushRequest{Operations: envelopes})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sync/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("push %d operations: %w", len(ops), err)
	}
	defer drainAndClose(response.Body)

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("push %d operations: %s", len(ops), statusError(response))
	}
	return nil
}

type pullResponse struct {
	Operations []json.RawMessage `json:"operations"`
}

// Pull downloads operations past the given sequence number.
func (c *Client) Pull(ctx context.Context, after int64) ([]oplog.Sequenced, error) {
	if c.token == "" {
		return nil, errMissingToken
	}

	endpoint := c.baseURL + "/v1/sync/pull?after=" + strconv.FormatInt(after, 10)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build pull request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("pull after seqNo %d: %w", after, err)
	}
	defer drainAndClose(response.Body)

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pull after seqNo %d: %s", after, statusError(response))
	}

	var payload pullResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode pull response: %w", err)
	}

	batch := make([]oplog.Sequenced, 0, len(payload.Operations))
	for _, envelope := range payload.Operations {
		sequenced, err := oplog.DecodeSequenced(envelope)
		if err != nil {
			return nil, fmt.Errorf("decode pulled operation: %w", err)
		}
		batch = append(batch, sequenced)
	}
	return batch, nil
}

func statusError(response *http.Response) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(response.Body, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Sprintf("server returned %d (%s)", response.StatusCode, payload.Error)
	}
	return fmt.Sprintf("server returned %d", response.StatusCode)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
