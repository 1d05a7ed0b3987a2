package snapmaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// TokenStore persists the device token between runs.
// Load returns ErrNoToken when nothing has been stored yet.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
}

// AcquireToken returns a token for the device. A stored token is refreshed
// first; if that fails for any reason a fresh token is requested, which the
// device only grants after the connection is confirmed on its touchscreen.
// Whatever token the device hands back is persisted, even if unchanged.
func (c *Client) AcquireToken(ctx context.Context, store TokenStore) (string, error) {
	stored, err := store.Load(ctx)
	switch {
	case err == nil && stored != "":
		token, err := c.refreshToken(ctx, stored)
		if err == nil {
			if err := store.Save(ctx, token); err != nil {
				return "", fmt.Errorf("failed to save refreshed token: %w", err)
			}
			c.log.Info("obtained refresh token")
			return token, nil
		}
		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			c.log.Error("error using existing token", "error", err)
		} else {
			c.log.Warn("stored token rejected", "error", err)
		}
	case err != nil && !errors.Is(err, ErrNoToken):
		c.log.Warn("failed to load stored token", "error", err)
	}

	c.log.Info("no valid token found, requesting new token")
	c.log.Info("please authorize the connection on the Snapmaker touchscreen")

	token, err := c.requestToken(ctx, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return "", err
		}
		return "", &AuthError{Err: err}
	}

	if err := store.Save(ctx, token); err != nil {
		return "", fmt.Errorf("failed to save token: %w", err)
	}
	c.log.Info("obtained authorization token")
	return token, nil
}

func (c *Client) refreshToken(ctx context.Context, stored string) (string, error) {
	form := url.Values{"token": {stored}}
	return c.requestToken(ctx, form)
}

// requestToken posts to the connect endpoint, with the form when refreshing
// and with no body when asking for a new token.
func (c *Client) requestToken(ctx context.Context, form url.Values) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequest(http.MethodPost, c.apiURL("connect"), body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.do(ctx, "connect", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		c.log.Error("failed to get token", "status", resp.StatusCode)
		authErr := &AuthError{StatusCode: resp.StatusCode}
		if text := readErrorBody(resp.Body); text != "" {
			authErr.Err = errors.New(text)
		}
		return "", authErr
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Op: "connect", Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse token response: %w", err)}
	}
	if parsed.Token == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Err: errors.New("token response has no token")}
	}

	return parsed.Token, nil
}
