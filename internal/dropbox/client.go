// Package dropbox is a storage backend on the Dropbox API v2 SDK.
package dropbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	dbx "github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Lllllllleong/paperdrop/internal/storage"
)

const (
	tokenURL = "https://api.dropbox.com/oauth2/token"

	maxRetries = 4
)

type Config struct {
	AccessToken  string
	RefreshToken string
	AppKey       string
	AppSecret    string

	// BaseURL replaces every Dropbox host; tests point it at httptest.
	BaseURL string
	Timeout time.Duration
	// Backoff is the first retry delay for throttled or failed calls.
	Backoff time.Duration
}

// Client implements storage.Store on a Dropbox account.
type Client struct {
	files  files.Client
	config Config
	log    *zap.Logger
}

var _ storage.Store = (*Client)(nil)

// NewClient authenticates with a refresh token when one is configured, and
// with a fixed access token otherwise.
func NewClient(ctx context.Context, config Config, log *zap.Logger) (*Client, error) {
	var ts oauth2.TokenSource
	switch {
	case config.RefreshToken != "":
		if config.AppKey == "" {
			return nil, fmt.Errorf("dropbox refresh token requires an app key")
		}
		oc := &oauth2.Config{
			ClientID:     config.AppKey,
			ClientSecret: config.AppSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		}
		ts = oc.TokenSource(ctx, &oauth2.Token{RefreshToken: config.RefreshToken})
	case config.AccessToken != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.AccessToken, TokenType: "Bearer"})
	default:
		return nil, fmt.Errorf("dropbox credentials missing: set an access token or a refresh token")
	}
	hc := oauth2.NewClient(ctx, ts)
	return newClient(hc, config, log), nil
}

func newClient(hc *http.Client, config Config, log *zap.Logger) *Client {
	if config.Timeout > 0 {
		hc.Timeout = config.Timeout
	}
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}
	log = log.With(zap.String("backend", "dropbox"))

	dc := dbx.Config{
		Token:  config.AccessToken,
		Client: hc,
		Logger: zap.NewStdLog(log.Named("sdk")),
	}
	if log.Core().Enabled(zap.DebugLevel) {
		dc.LogLevel = dbx.LogDebug
	}
	if config.BaseURL != "" {
		base := strings.TrimSuffix(config.BaseURL, "/")
		dc.URLGenerator = func(_, namespace, route string) string {
			return base + "/2/" + namespace + "/" + route
		}
	}
	return &Client{files: files.New(dc), config: config, log: log}
}

// statusOf recovers the HTTP status behind an SDK error, or 0 when the call
// never got a reply.
func statusOf(err error) int {
	var (
		internal  dbx.SDKInternalError
		rateLimit auth.RateLimitAPIError
		authErr   auth.AuthAPIError
		create    files.CreateFolderV2APIError
		move      files.MoveV2APIError
	)
	switch {
	case errors.As(err, &internal):
		return internal.StatusCode
	case errors.As(err, &rateLimit):
		return http.StatusTooManyRequests
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &create), errors.As(err, &move):
		return http.StatusConflict
	}
	return 0
}

// classify maps endpoint errors onto the storage sentinels.
func classify(err error) error {
	var create files.CreateFolderV2APIError
	if errors.As(err, &create) && create.EndpointError != nil {
		if p := create.EndpointError.Path; p != nil && p.Tag == files.WriteErrorConflict {
			return storage.ErrAlreadyExists
		}
		return nil
	}
	var move files.MoveV2APIError
	if errors.As(err, &move) && move.EndpointError != nil {
		e := move.EndpointError
		switch e.Tag {
		case files.RelocationErrorFromLookup:
			if e.FromLookup != nil && e.FromLookup.Tag == files.LookupErrorNotFound {
				return storage.ErrNotFound
			}
		case files.RelocationErrorTo:
			if e.To != nil && e.To.Tag == files.WriteErrorConflict {
				return storage.ErrConflict
			}
		}
	}
	return nil
}

// call runs one SDK request. When retry is set, throttled and server side
// failures are retried with exponential backoff. The SDK takes no context,
// so cancellation is only seen between attempts.
func (c *Client) call(ctx context.Context, op string, retry bool, fn func() error) error {
	backoff := c.config.Backoff
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		status := statusOf(err)
		if status == 0 {
			return fmt.Errorf("%s request failed: %w", op, err)
		}

		lastErr = &storage.RemoteError{Op: op, Status: status, Body: err.Error(), Kind: classify(err)}
		if status != http.StatusTooManyRequests && status < 500 {
			c.log.Error("dropbox call failed", zap.String("endpoint", op), zap.Int("status", status), zap.Error(err))
			return lastErr
		}
		if !retry || attempt == maxRetries {
			break
		}
		c.log.Warn("dropbox call failed, will retry",
			zap.String("endpoint", op),
			zap.Int("status", status),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.log.Error("dropbox call failed after retries", zap.String("endpoint", op), zap.Error(lastErr))
	return lastErr
}

// apiPath converts a storage path to Dropbox's form, where the root is "".
func apiPath(p string) string {
	c := storage.Clean(p)
	if c == "/" {
		return ""
	}
	return c
}
