// Package remote talks to the chat backend: live document feeds over
// WebSocket and point reads and writes over HTTP.
package remote

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

	"go.uber.org/zap"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
	"github.com/master-rogerio/VCZapO-sub001/internal/roomcrypt"
	"github.com/master-rogerio/VCZapO-sub001/internal/sync"
)

// Config configures a Client.
type Config struct {
	FeedURL    string // ws:// or wss:// base of the live feed
	APIURL     string // http:// or https:// base of the document API
	Token      string
	HTTPClient *http.Client
	// Key encrypts outgoing content when set.
	Key *roomcrypt.RoomKey
}

// Client implements sync.Remote and the outbox and read-acknowledgement
// writers.
type Client struct {
	feedURL string
	apiURL  string
	token   string
	http    *http.Client
	key     *roomcrypt.RoomKey
	logger  *zap.Logger
}

// APIError is returned for unexpected HTTP statuses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.StatusCode)
}

// New validates cfg and returns a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.FeedURL == "" || cfg.APIURL == "" {
		return nil, errors.New("remote: feed_url and api_url are required")
	}
	for _, raw := range []string{cfg.FeedURL, cfg.APIURL} {
		if _, err := url.Parse(raw); err != nil {
			return nil, fmt.Errorf("remote: invalid url %q: %w", raw, err)
		}
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		feedURL: strings.TrimRight(cfg.FeedURL, "/"),
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		token:   cfg.Token,
		http:    hc,
		key:     cfg.Key,
		logger:  logger,
	}, nil
}

var _ sync.Remote = (*Client)(nil)

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, &e)
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetProfile reads /profiles/{userID}. A 404 maps to sync.ErrProfileNotFound.
func (c *Client) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	var fields map[string]any
	err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(userID), nil, &fields)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return model.Profile{}, fmt.Errorf("%s: %w", userID, sync.ErrProfileNotFound)
	}
	if err != nil {
		return model.Profile{}, err
	}
	p, issues := sync.DecodeProfile(userID, fields)
	if len(issues) > 0 {
		c.logger.Warn("degraded profile fields", zap.String("user_id", userID), zap.Strings("issues", issues))
	}
	return p, nil
}

// FetchMessages reads every message document of roomID once.
func (c *Client) FetchMessages(ctx context.Context, roomID string) ([]sync.Document, error) {
	var out struct {
		Docs []sync.Document `json:"docs"`
	}
	if err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Docs, nil
}

// WriteMessage stores msg under its id, encrypting the content when a key
// is configured.
func (c *Client) WriteMessage(ctx context.Context, msg model.Message) error {
	fields := sync.Encode(msg)
	if c.key != nil {
		ct, err := c.key.Encrypt(msg.RoomID, msg.Content)
		if err != nil {
			return fmt.Errorf("encrypt content: %w", err)
		}
		sync.SetEncrypted(fields, roomcrypt.SchemeRoomKey, ct)
	}
	path := "/rooms/" + url.PathEscape(msg.RoomID) + "/messages/" + url.PathEscape(msg.ID)
	return c.do(ctx, http.MethodPut, path, fields, nil)
}

// MarkRoomRead acknowledges that readerID has read roomID.
func (c *Client) MarkRoomRead(ctx context.Context, roomID, readerID string) error {
	body := map[string]string{"userId": readerID}
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/read", body, nil)
}
