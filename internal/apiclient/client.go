// Package apiclient talks to the textly-chat HTTP API on behalf of a
// signed-in user.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"textly-chat/internal/assist"
	"textly-chat/internal/models"
)

// MaxMetadataBatch is the largest id list the metadata endpoint accepts.
const MaxMetadataBatch = 50

// ErrAssistantDisabled mirrors the server's 403 on transform requests.
var ErrAssistantDisabled = assist.ErrDisabled

// RateLimitError is returned for 429 responses.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

// StatusError is any other non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.Status)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
}

type metaRequest struct {
	IDs []string `json:"ids"`
}

type metaResponse struct {
	Users []models.MetaUser `json:"users"`
}

type transformRequest struct {
	Action assist.Action `json:"action"`
	Text   string        `json:"text"`
}

type transformResponse struct {
	OutputText string `json:"outputText"`
}

// Client is an authenticated API client.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// New returns a Client for baseURL that sends token as a bearer credential.
func New(baseURL, token string, logger zerolog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(20 * time.Second)
	return &Client{http: rc, log: logger.With().Str("component", "apiclient").Logger()}
}

// UserMetadata resolves display metadata for ids. Lists longer than
// MaxMetadataBatch are split. Ids the caller may not see are absent from the
// result. On error the users of batches that succeeded are still returned.
func (c *Client) UserMetadata(ctx context.Context, ids []string) ([]models.MetaUser, error) {
	unique := dedupe(ids)
	var users []models.MetaUser
	for start := 0; start < len(unique); start += MaxMetadataBatch {
		end := min(start+MaxMetadataBatch, len(unique))
		var out metaResponse
		if err := c.post(ctx, "/api/users/meta", metaRequest{IDs: unique[start:end]}, &out); err != nil {
			return users, err
		}
		users = append(users, out.Users...)
	}
	return users, nil
}

// Transform asks the server to rewrite or translate text.
func (c *Client) Transform(ctx context.Context, action assist.Action, text string) (string, error) {
	var out transformResponse
	err := c.post(ctx, "/api/improve", transformRequest{Action: action, Text: text}, &out)
	var status *StatusError
	if errors.As(err, &status) && status.Status == http.StatusForbidden {
		return "", ErrAssistantDisabled
	}
	if err != nil {
		return "", err
	}
	return out.OutputText, nil
}

// GetSettings loads the caller's assistant preferences.
func (c *Client) GetSettings(ctx context.Context) (models.UserSettings, error) {
	var out models.UserSettings
	var apiErr errorBody
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).SetError(&apiErr).Get("/api/settings")
	if err := c.check(resp, err, apiErr); err != nil {
		return models.UserSettings{}, err
	}
	return out, nil
}

// UpdateSettings applies patch to the caller's preferences and returns the
// stored result.
func (c *Client) UpdateSettings(ctx context.Context, patch models.SettingsPatch) (models.UserSettings, error) {
	var out models.UserSettings
	var apiErr errorBody
	resp, err := c.http.R().SetContext(ctx).SetBody(patch).SetResult(&out).SetError(&apiErr).Put("/api/settings")
	if err := c.check(resp, err, apiErr); err != nil {
		return models.UserSettings{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var apiErr errorBody
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(result).SetError(&apiErr).Post(path)
	return c.check(resp, err, apiErr)
}

func (c *Client) check(resp *resty.Response, err error, apiErr errorBody) error {
	if err != nil {
		return fmt.Errorf("api request: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		retry := retryAfter(resp.Header().Get("Retry-After"))
		c.log.Warn().Str("path", resp.Request.URL).Dur("retry_after", retry).Msg("rate limited")
		return &RateLimitError{RetryAfter: retry}
	}
	return &StatusError{Status: resp.StatusCode(), Message: apiErr.Error}
}

func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
