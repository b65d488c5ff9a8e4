// Package push is the HTTP client for the external push provider: the
// authorization-code exchange, the shared access-token fetch, and the
// subscribe-message send.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrUnreachable marks a transport-level failure (no response or a
	// non-2xx status). Dispatch treats it as transient.
	ErrUnreachable = errors.New("push: provider unreachable")
	// ErrMalformedResponse marks an unparseable provider body. Never retried.
	ErrMalformedResponse = errors.New("push: malformed provider response")
)

// Client wraps the provider's JSON-over-HTTP endpoints.
type Client struct {
	httpc     *http.Client
	appID     string
	appSecret string
	baseURL   string
}

// Option configures Client.
type Option func(*Client)

// WithBaseURL points the client at a non-default provider host (tests,
// staging).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// New creates a client with sensible defaults.
func New(appID, appSecret string, opts ...Option) *Client {
	c := &Client{
		httpc:     &http.Client{Timeout: 10 * time.Second},
		appID:     appID,
		appSecret: appSecret,
		baseURL:   "https://api.weixin.qq.com",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Code2Session exchanges an authorization code for the user's identity.
func (c *Client) Code2Session(ctx context.Context, code string) (Session, error) {
	q := url.Values{}
	q.Set("appid", c.appID)
	q.Set("secret", c.appSecret)
	q.Set("js_code", code)
	q.Set("grant_type", "authorization_code")

	var resp code2SessionResponse
	if err := c.getJSON(ctx, "/sns/jscode2session?"+q.Encode(), &resp); err != nil {
		return Session{}, err
	}
	if resp.ErrCode != nil && *resp.ErrCode != 0 {
		return Session{}, &APIError{Code: Code(*resp.ErrCode), Msg: resp.ErrMsg}
	}
	if resp.OpenID == "" {
		return Session{}, &APIError{Code: CodeOpenIDMissing, Msg: CodeOpenIDMissing.String()}
	}
	if resp.UnionID == "" {
		return Session{}, &APIError{Code: CodeUnionIDMissing, Msg: CodeUnionIDMissing.String()}
	}
	return Session{OpenID: resp.OpenID, SessionKey: resp.SessionKey, UnionID: resp.UnionID}, nil
}

// FetchAccessToken requests a fresh shared access token from the provider.
// The returned duration is the provider-reported lifetime.
func (c *Client) FetchAccessToken(ctx context.Context) (string, time.Duration, error) {
	q := url.Values{}
	q.Set("grant_type", "client_credential")
	q.Set("appid", c.appID)
	q.Set("secret", c.appSecret)

	var resp accessTokenResponse
	if err := c.getJSON(ctx, "/cgi-bin/token?"+q.Encode(), &resp); err != nil {
		return "", 0, err
	}
	if resp.ErrCode != nil && *resp.ErrCode != 0 {
		return "", 0, &APIError{Code: Code(*resp.ErrCode), Msg: resp.ErrMsg}
	}
	if resp.AccessToken == "" || resp.ExpiresIn <= 0 {
		return "", 0, fmt.Errorf("%w: token payload incomplete", ErrMalformedResponse)
	}
	return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

// SendSubscribe delivers one subscribe message. A nil error means the
// provider answered with a parseable result; the Code carries its verdict.
func (c *Client) SendSubscribe(ctx context.Context, accessToken string, msg SubscribeMessage) (Code, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return CodeUnknown, err
	}
	u := c.baseURL + "/cgi-bin/message/subscribe/send?access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return CodeUnknown, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return CodeNetwork, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CodeNetwork, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	var result sendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return CodeInvalidJSON, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return Code(result.ErrCode), nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
