package localstore

import (
	"encoding/json"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Global keys shared by every user of a device.
const (
	KeyCurrentUser = "currentUser"
	KeyAccessToken = "google_access_token"
)

// Globals reads and writes the unscoped keys.
type Globals struct {
	kv  kv.Store
	log zerolog.Logger
}

// NewGlobals wraps a kv store.
func NewGlobals(backend kv.Store, log zerolog.Logger) *Globals {
	return &Globals{kv: backend, log: log}
}

// CurrentUser returns the signed-in user, if any.
func (g *Globals) CurrentUser() (domain.UserSession, bool) {
	var u domain.UserSession
	if !g.read(KeyCurrentUser, &u) || u.ID == "" {
		return domain.UserSession{}, false
	}
	return u, true
}

// SetCurrentUser records the signed-in user.
func (g *Globals) SetCurrentUser(u domain.UserSession) error {
	return g.write(KeyCurrentUser, u)
}

// Token returns the cached access token, if any.
func (g *Globals) Token() (*oauth2.Token, bool) {
	var tok oauth2.Token
	if !g.read(KeyAccessToken, &tok) || tok.AccessToken == "" {
		return nil, false
	}
	return &tok, true
}

// SetToken caches the access token.
func (g *Globals) SetToken(tok *oauth2.Token) error {
	return g.write(KeyAccessToken, tok)
}

// Clear removes the signed-in user and the cached token.
func (g *Globals) Clear() error {
	if err := g.kv.Remove(KeyCurrentUser); err != nil {
		return err
	}
	return g.kv.Remove(KeyAccessToken)
}

func (g *Globals) read(key string, v any) bool {
	raw, ok, err := g.kv.Get(key)
	if err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Failed to read global key")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed global value")
		return false
	}
	return true
}

func (g *Globals) write(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := g.kv.Set(key, string(data)); err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Failed to write global key")
		return err
	}
	return nil
}
