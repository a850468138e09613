package sso

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// IdentityDirectory is the writable identity storage the provisioner needs,
// a superset of the read-only view the authentication core consumes
type IdentityDirectory interface {
	auth.IdentityStore

	// FindByProvider returns the live identity linked to the provider
	// subject, or (nil, nil) when absent
	FindByProvider(ctx context.Context, provider, providerID string) (*auth.Identity, error)

	// Create inserts a new identity
	Create(ctx context.Context, identity *auth.Identity) error
}

// Provisioner resolves externally-asserted users to local identities,
// creating them on first login (just-in-time provisioning)
type Provisioner struct {
	directory IdentityDirectory
	logger    *observability.Logger
}

// NewProvisioner creates a provisioner
func NewProvisioner(directory IdentityDirectory, logger *observability.Logger) *Provisioner {
	return &Provisioner{
		directory: directory,
		logger:    logger,
	}
}

// Provision maps an external user to a local identity. Resolution order:
// the provider link, then the verified email address, then a fresh account.
// Accounts created this way are active immediately and have no local secret.
func (p *Provisioner) Provision(ctx context.Context, user *ExternalUser) (*auth.Identity, error) {
	identity, err := p.directory.FindByProvider(ctx, user.Provider, user.Subject)
	if err != nil {
		return nil, fmt.Errorf("provider lookup failed: %w", err)
	}
	if identity != nil {
		return identity, nil
	}

	identity, err = p.directory.FindByEmail(ctx, auth.NormalizeIdentifier(user.Email))
	if err != nil {
		return nil, fmt.Errorf("email lookup failed: %w", err)
	}
	if identity != nil {
		// An existing local account with the same verified address; the
		// provider link is not persisted here to avoid silently merging
		// accounts the user may consider distinct
		return identity, nil
	}

	identity = &auth.Identity{
		ID:          uuid.New(),
		Email:       auth.NormalizeIdentifier(user.Email),
		DisplayName: user.Name,
		Status:      auth.StatusActive,
		Provider:    user.Provider,
		ProviderID:  user.Subject,
	}
	if err := p.directory.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to provision identity: %w", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"provider":    user.Provider,
		"identity_id": identity.ID.String(),
	}).Info("provisioned identity from external provider")
	return identity, nil
}
