// Package sso integrates external OpenID Connect identity providers with
// the opaque-token session core. The provider boundary ends at the callback:
// once the external identity is verified, a normal opaque session token is
// minted and the provider's own tokens are discarded.
package sso

import (
	"context"
	"net/http"
)

// ProviderConfig holds configuration for one external identity provider
type ProviderConfig struct {
	// Name identifies the provider in records and audit events, e.g. "okta"
	Name string

	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// ExternalUser is the verified identity asserted by an external provider
type ExternalUser struct {
	// Provider is the configured provider name
	Provider string
	// Subject is the provider's stable identifier for the user
	Subject string
	Email   string
	Name    string
}

// Provider is an external identity provider capable of the redirect flow
type Provider interface {
	// Name returns the configured provider name
	Name() string

	// InitiateLogin redirects the client to the provider's authorization
	// endpoint with the given state
	InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error

	// HandleCallback verifies the provider's callback and returns the
	// asserted external user
	HandleCallback(ctx context.Context, r *http.Request) (*ExternalUser, error)
}
