// Package streamchat is a small server-side client for the Stream Chat REST API.
//
// It covers what the backend needs: issuing user tokens, upserting users and
// creating (or fetching) channels with a given member list.
package streamchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://chat.stream-io-api.com"

	// MessagingType is the channel type used for roommate conversations.
	MessagingType = "messaging"
)

var (
	ErrNotConfigured = errors.New("stream chat api key and secret are required")
	ErrInvalidUserID = errors.New("user id is required")
)

// Config holds the credentials issued by Stream.
type Config struct {
	APIKey    string        `mapstructure:"api-key"`
	APISecret string        `mapstructure:"api-secret"`
	BaseURL   string        `mapstructure:"base-url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// User is a chat identity as the provider stores it.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// Member is one participant of a channel.
type Member struct {
	UserID string `json:"user_id"`
	Role   string `json:"channel_role"`
}

// Channel is the provider's view of a conversation.
type Channel struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	CID         string   `json:"cid"`
	MemberCount int      `json:"member_count"`
	CreatedAt   string   `json:"created_at"`
	Members     []Member `json:"members"`
}

// APIError is the error body Stream returns on non-2xx responses.
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"StatusCode"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stream chat: %s (code %d, status %d)", e.Message, e.Code, e.StatusCode)
}

// Client talks to Stream Chat on behalf of the backend.
type Client struct {
	http   *resty.Client
	key    string
	secret []byte
	logger *zap.Logger
}

// New validates the credentials and prepares a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.APISecret = strings.TrimSpace(cfg.APISecret)
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("stream-auth-type", "jwt").
		SetQueryParam("api_key", cfg.APIKey).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	return &Client{
		http:   h,
		key:    cfg.APIKey,
		secret: []byte(cfg.APISecret),
		logger: logger.Named("streamchat"),
	}, nil
}

// Name identifies the provider in logs and responses.
func (c *Client) Name() string { return "stream" }

// APIKey is the public key the frontend needs to connect.
func (c *Client) APIKey() string { return c.key }

// CreateToken signs a user token the frontend passes to connectUser.
func (c *Client) CreateToken(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidUserID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"iat":     time.Now().Unix(),
	})
	return token.SignedString(c.secret)
}

func (c *Client) serverToken() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"server": true})
	return token.SignedString(c.secret)
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	tok, err := c.serverToken()
	if err != nil {
		return nil, fmt.Errorf("sign server token: %w", err)
	}
	return c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", tok).
		SetError(&APIError{}), nil
}

// UpsertUser creates the user or refreshes its name and image.
func (c *Client) UpsertUser(ctx context.Context, u User) error {
	if strings.TrimSpace(u.ID) == "" {
		return ErrInvalidUserID
	}
	if u.Name == "" {
		u.Name = "User"
	}

	req, err := c.request(ctx)
	if err != nil {
		return err
	}

	resp, err := req.
		SetBody(map[string]any{"users": map[string]User{u.ID: u}}).
		Post("/users")
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	if resp.IsError() {
		return apiError(resp)
	}

	c.logger.Debug("upserted chat user", zap.String("user_id", u.ID))
	return nil
}

// GetOrCreateChannel creates the channel if it does not exist yet and returns
// its current state. Members must be the full provider user ids.
func (c *Client) GetOrCreateChannel(ctx context.Context, channelType, id string, members []string, createdBy string) (*Channel, error) {
	if channelType == "" {
		channelType = MessagingType
	}

	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	data := map[string]any{"members": members}
	if createdBy != "" {
		data["created_by_id"] = createdBy
	}

	var out map[string]any
	resp, err := req.
		SetBody(map[string]any{"data": data, "state": true, "watch": false}).
		SetResult(&out).
		Post(fmt.Sprintf("/channels/%s/%s/query", channelType, id))
	if err != nil {
		return nil, fmt.Errorf("query channel %s: %w", id, err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}

	return decodeChannel(out)
}

func decodeChannel(out map[string]any) (*Channel, error) {
	var ch Channel
	if err := decode(out["channel"], &ch); err != nil {
		return nil, fmt.Errorf("decode channel: %w", err)
	}
	if err := decode(out["members"], &ch.Members); err != nil {
		return nil, fmt.Errorf("decode channel members: %w", err)
	}
	if ch.ID == "" {
		return nil, errors.New("stream chat returned a channel without id")
	}
	return &ch, nil
}

func decode(input any, result any) error {
	if input == nil {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           result,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func apiError(resp *resty.Response) error {
	if e, ok := resp.Error().(*APIError); ok && e.Message != "" {
		if e.StatusCode == 0 {
			e.StatusCode = resp.StatusCode()
		}
		return e
	}
	return &APIError{Message: strings.TrimSpace(resp.String()), StatusCode: resp.StatusCode()}
}
