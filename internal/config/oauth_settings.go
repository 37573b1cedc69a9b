package config

import (
	"errors"
	"sync/atomic"
)

// OAuthClient is one immutable snapshot of the OAuth client registration.
type OAuthClient struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

// Configured reports whether the snapshot can be used for token calls.
func (c OAuthClient) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// OAuthSettings holds the OAuth client registration and allows it to be
// replaced while the server runs. Readers take a snapshot with Current; a
// call to Update is visible to every Current call that starts after it
// returns, and exchanges already holding a snapshot keep using it.
type OAuthSettings struct {
	current atomic.Pointer[OAuthClient]
}

// NewOAuthSettings creates settings seeded with the given client.
func NewOAuthSettings(initial OAuthClient) *OAuthSettings {
	s := &OAuthSettings{}
	s.current.Store(&initial)
	return s
}

// Current returns the active snapshot.
func (s *OAuthSettings) Current() OAuthClient {
	return *s.current.Load()
}

// Update replaces the client id and secret. An empty redirect URI keeps the
// previous one.
func (s *OAuthSettings) Update(next OAuthClient) error {
	if next.ClientID == "" || next.ClientSecret == "" {
		return errors.New("client_id and client_secret are required")
	}
	if next.RedirectURI == "" {
		next.RedirectURI = s.Current().RedirectURI
	}
	s.current.Store(&next)
	return nil
}
