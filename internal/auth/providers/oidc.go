package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/fieldatlas/fieldatlas/internal/models"
	"github.com/fieldatlas/fieldatlas/internal/roles"
)

// OIDCConfig holds the static configuration for the single OIDC provider.
type OIDCConfig struct {
	Enabled      bool
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Timeout      time.Duration
}

// Identity is the verified identity extracted from an ID token.
type Identity struct {
	Subject       string
	Email         string
	Name          string
	EmailVerified bool
}

// OIDCProvider implements the auth-code sign-in flow against one issuer.
// Accounts resolved through it carry no password hash; they authenticate
// exclusively via the provider.
type OIDCProvider struct {
	name     string
	db       *gorm.DB
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	now      func() time.Time
}

// NewOIDCProvider runs issuer discovery and returns a configured provider.
func NewOIDCProvider(ctx context.Context, db *gorm.DB, cfg OIDCConfig) (*OIDCProvider, error) {
	if db == nil {
		return nil, errors.New("oidc provider: db is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("oidc provider: issuer is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("oidc provider: client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("oidc provider: client secret is required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("oidc provider: redirect url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	issuer, err := oidc.NewProvider(discoveryCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: discovery failed: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "oidc"
	}

	return &OIDCProvider{
		name: name,
		db:   db,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     issuer.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier: issuer.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		now:      time.Now,
	}, nil
}

// Name returns the provider identifier stored on account links.
func (p *OIDCProvider) Name() string {
	return p.name
}

// AuthURL builds the authorization redirect for the given state value.
func (p *OIDCProvider) AuthURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange swaps the authorization code for tokens and verifies the ID token.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: code exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("oidc provider: response missing id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: verify id token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc provider: decode claims: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return nil, errors.New("oidc provider: id token carries no email")
	}

	return &Identity{
		Subject:       idToken.Subject,
		Email:         email,
		Name:          strings.TrimSpace(claims.Name),
		EmailVerified: claims.EmailVerified,
	}, nil
}

// ResolveUser maps a verified identity onto a local account: an existing link
// wins, then an email match, then a new password-less account. The link row
// is upserted so future sign-ins resolve directly by subject.
func (p *OIDCProvider) ResolveUser(ctx context.Context, identity *Identity) (*models.User, error) {
	if identity == nil || identity.Subject == "" {
		return nil, errors.New("oidc provider: identity is required")
	}

	var link models.AccountLink
	err := p.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", p.name, identity.Subject).
		Take(&link).Error
	if err == nil {
		var user models.User
		if err := p.db.WithContext(ctx).Take(&user, "id = ?", link.UserID).Error; err != nil {
			return nil, fmt.Errorf("oidc provider: load linked user: %w", err)
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("oidc provider: query link: %w", err)
	}

	var user models.User
	err = p.db.WithContext(ctx).Where("email = ?", identity.Email).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			Email: identity.Email,
			Name:  identity.Name,
			Role:  string(roles.Visitor),
		}
		if identity.EmailVerified {
			now := p.now()
			user.VerifiedAt = &now
		}
		if err := p.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, fmt.Errorf("oidc provider: create user: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("oidc provider: query user: %w", err)
	}

	newLink := models.AccountLink{
		UserID:   user.ID,
		Provider: p.name,
		Subject:  identity.Subject,
		Email:    identity.Email,
	}
	if err := p.db.WithContext(ctx).Create(&newLink).Error; err != nil {
		return nil, fmt.Errorf("oidc provider: create link: %w", err)
	}

	return &user, nil
}
