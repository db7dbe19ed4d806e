// Package auth signs a user in with Google and keeps the session in the
// device-global keys.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/dvloznov/finance-sync/internal/localstore"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

var (
	// ErrStateMismatch is returned when the callback state does not match the flow.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrNotSignedIn is returned when no user or token is stored.
	ErrNotSignedIn = errors.New("not signed in")
)

// Scopes requested at sign-in: the profile for the namespace and the
// app-created Drive files for sync.
var Scopes = []string{
	oauth2api.UserinfoProfileScope,
	oauth2api.UserinfoEmailScope,
	drive.DriveFileScope,
}

// Flow is one pending authorization. Keep it until the callback arrives.
type Flow struct {
	URL      string
	State    string
	Verifier string
}

// Provider runs the authorization-code flow with PKCE.
type Provider struct {
	cfg     *oauth2.Config
	backend kv.Store
	globals *localstore.Globals
	apiBase string
	log     zerolog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithEndpoint overrides the Google OAuth endpoint.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(p *Provider) { p.cfg.Endpoint = ep }
}

// WithAPIBase overrides the base URL of the userinfo API.
func WithAPIBase(base string) Option {
	return func(p *Provider) { p.apiBase = base }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Provider) { p.log = log }
}

// NewProvider creates a provider storing its session in backend.
func NewProvider(clientID, clientSecret, redirectURL string, backend kv.Store, opts ...Option) *Provider {
	p := &Provider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		},
		backend: backend,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.globals = localstore.NewGlobals(backend, p.log)
	return p
}

// Begin starts a flow. Open Flow.URL in a browser.
func (p *Provider) Begin() (Flow, error) {
	state, err := randomState()
	if err != nil {
		return Flow{}, err
	}
	verifier := oauth2.GenerateVerifier()
	url := p.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
	return Flow{URL: url, State: state, Verifier: verifier}, nil
}

// Complete exchanges the callback code, fetches the profile and stores the
// user and token.
func (p *Provider) Complete(ctx context.Context, flow Flow, code, state string) (domain.UserSession, error) {
	if state != flow.State {
		return domain.UserSession{}, ErrStateMismatch
	}

	tok, err := p.cfg.Exchange(ctx, code, oauth2.VerifierOption(flow.Verifier))
	if err != nil {
		return domain.UserSession{}, fmt.Errorf("exchange code: %w", err)
	}

	user, err := p.fetchProfile(ctx, p.cfg.TokenSource(ctx, tok))
	if err != nil {
		return domain.UserSession{}, err
	}

	if err := p.globals.SetToken(tok); err != nil {
		return domain.UserSession{}, fmt.Errorf("store token: %w", err)
	}
	if err := p.globals.SetCurrentUser(user); err != nil {
		return domain.UserSession{}, fmt.Errorf("store user: %w", err)
	}

	p.log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("Signed in")
	return user, nil
}

func (p *Provider) fetchProfile(ctx context.Context, ts oauth2.TokenSource) (domain.UserSession, error) {
	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if p.apiBase != "" {
		opts = append(opts, option.WithEndpoint(p.apiBase))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return domain.UserSession{}, fmt.Errorf("create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return domain.UserSession{}, fmt.Errorf("get user info: %w", err)
	}
	user := domain.UserSession{
		ID:      info.Id,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}
	if err := domain.Validate(user); err != nil {
		return domain.UserSession{}, fmt.Errorf("user info: %w", err)
	}
	return user, nil
}

// CurrentUser returns the signed-in user.
func (p *Provider) CurrentUser() (domain.UserSession, bool) {
	return p.globals.CurrentUser()
}

// TokenSource returns a source for the stored token. Refreshed tokens are
// written back.
func (p *Provider) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	tok, ok := p.globals.Token()
	if !ok {
		return nil, ErrNotSignedIn
	}
	return &persistingSource{
		base:    oauth2.ReuseTokenSource(tok, p.cfg.TokenSource(ctx, tok)),
		last:    tok.AccessToken,
		globals: p.globals,
		log:     p.log,
	}, nil
}

// Logout removes everything stored for the current user, then the
// signed-in user and token.
func (p *Provider) Logout() error {
	if user, ok := p.globals.CurrentUser(); ok {
		if err := localstore.New(p.backend, user.ID, p.log).ClearAll(); err != nil {
			return fmt.Errorf("clear user data: %w", err)
		}
		p.log.Info().Str("user_id", user.ID).Msg("Signed out")
	}
	return p.globals.Clear()
}

type persistingSource struct {
	base oauth2.TokenSource

	mu      sync.Mutex
	last    string
	globals *localstore.Globals
	log     zerolog.Logger
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.globals.SetToken(tok); err != nil {
			s.log.Warn().Err(err).Msg("Failed to store refreshed token")
		}
	}
	return tok, nil
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
