/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubreconciler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"golang.org/x/oauth2"
)

// ClientOption configures a ClientFactory.
type ClientOption func(*ClientFactory) error

// WithBaseURL points clients at a GitHub Enterprise or test server. The
// URL is the REST API root, for example https://ghe.example.com/api/v3/.
func WithBaseURL(base string) ClientOption {
	return func(f *ClientFactory) error {
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parsing base URL: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		f.baseURL = u
		return nil
	}
}

// WithTransport sets the underlying HTTP transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(f *ClientFactory) error {
		if rt == nil {
			return errors.New("transport cannot be nil")
		}
		f.transport = rt
		return nil
	}
}

// ClientFactory creates GitHub clients scoped to an installation. App
// credentials mint installation tokens with ghinstallation; a personal
// access token is used as-is for every installation.
type ClientFactory struct {
	appID     int64
	key       []byte
	token     string
	baseURL   *url.URL
	transport http.RoundTripper

	mu         sync.Mutex
	transports map[int64]*ghinstallation.Transport
}

// NewAppClientFactory authenticates as GitHub App appID with the PEM
// private key at keyPath.
func NewAppClientFactory(appID int64, keyPath string, opts ...ClientOption) (*ClientFactory, error) {
	if appID == 0 {
		return nil, errors.New("app ID is required")
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return newClientFactory(&ClientFactory{appID: appID, key: key}, opts)
}

// NewTokenClientFactory authenticates every client with token.
func NewTokenClientFactory(token string, opts ...ClientOption) (*ClientFactory, error) {
	if token == "" {
		return nil, errors.New("token is required")
	}
	return newClientFactory(&ClientFactory{token: token}, opts)
}

func newClientFactory(f *ClientFactory, opts []ClientOption) (*ClientFactory, error) {
	f.transport = http.DefaultTransport
	f.transports = make(map[int64]*ghinstallation.Transport)
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return f, nil
}

// installation returns the cached token transport for an installation.
func (f *ClientFactory) installation(installationID int64) (*ghinstallation.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tr, ok := f.transports[installationID]; ok {
		return tr, nil
	}
	tr, err := ghinstallation.New(f.transport, f.appID, installationID, f.key)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}
	if f.baseURL != nil {
		tr.BaseURL = strings.TrimSuffix(f.baseURL.String(), "/")
	}
	f.transports[installationID] = tr
	return tr, nil
}

// HTTPClient returns an authenticated HTTP client for installationID.
func (f *ClientFactory) HTTPClient(ctx context.Context, installationID int64) (*http.Client, error) {
	if f.token != "" {
		base := &http.Client{Transport: f.transport}
		return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), f.staticSource()), nil
	}
	tr, err := f.installation(installationID)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: tr}, nil
}

// Client returns a REST client for installationID.
func (f *ClientFactory) Client(ctx context.Context, installationID int64) (*github.Client, error) {
	hc, err := f.HTTPClient(ctx, installationID)
	if err != nil {
		return nil, err
	}
	gh := github.NewClient(hc)
	if f.baseURL != nil {
		gh.BaseURL = f.baseURL
	}
	clog.FromContext(ctx).With("installation", installationID).Debug("Created GitHub client")
	return gh, nil
}

// GraphQLURL returns the GraphQL endpoint matching the REST base URL.
func (f *ClientFactory) GraphQLURL() string {
	if f.baseURL == nil {
		return "https://api.github.com/graphql"
	}
	u := *f.baseURL
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/v3") + "/graphql"
	return u.String()
}

// TokenSource returns the credentials used for git operations on
// installationID.
func (f *ClientFactory) TokenSource(_ context.Context, installationID int64) (oauth2.TokenSource, error) {
	if f.token != "" {
		return f.staticSource(), nil
	}
	tr, err := f.installation(installationID)
	if err != nil {
		return nil, err
	}
	return installationTokenSource{tr: tr}, nil
}

func (f *ClientFactory) staticSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: f.token})
}

// installationTokenSource adapts ghinstallation's cached token to oauth2.
type installationTokenSource struct {
	tr *ghinstallation.Transport
}

func (s installationTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.tr.Token(context.Background())
	if err != nil {
		return nil, fmt.Errorf("minting installation token: %w", err)
	}
	return &oauth2.Token{AccessToken: tok}, nil
}
