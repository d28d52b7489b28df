package oidc

// Package oidc provides an OIDC/OAuth2 backed IdentityProvider for the session synchronizer.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/target/sessionsync/internal/adapters/changefeed"
	"github.com/target/sessionsync/internal/domain/session"
	apperrors "github.com/target/sessionsync/internal/errors"
	"github.com/target/sessionsync/internal/ports"
)

// Provider implements ports.IdentityProvider on top of an OIDC authorization-code flow.
// It holds one session at a time; the access token is refreshed transparently on read.
type Provider struct {
	config     *oauth2.Config
	logoutURL  string
	httpClient *http.Client
	logger     *slog.Logger
	feed       *changefeed.Feed

	// go-oidc provider and verifier
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier

	states   StateStore
	stateTTL time.Duration

	mu       sync.Mutex
	token    *oauth2.Token
	identity session.Identity
}

var (
	_ ports.IdentityProvider  = (*Provider)(nil)
	_ ports.SessionTerminator = (*Provider)(nil)
)

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	DiscoveryURL string
	// LogoutURL is the end-session endpoint notified on SignOut. Optional.
	LogoutURL  string
	HTTPClient *http.Client // Optional, defaults to a client with a 30s timeout
	Logger     *slog.Logger
	// States holds pending logins. Defaults to an in-process store.
	States   StateStore
	StateTTL time.Duration
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// NewProvider creates a new OIDC provider. It performs discovery once.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if config.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	states := config.States
	if states == nil {
		states = NewMemoryStateStore(nil)
	}
	stateTTL := config.StateTTL
	if stateTTL <= 0 {
		stateTTL = defaultStateTTL
	}

	p := &Provider{
		logoutURL:  config.LogoutURL,
		httpClient: httpClient,
		logger:     logger.With("component", "oidc_provider"),
		feed:       changefeed.New(logger),
		states:     states,
		stateTTL:   stateTTL,
	}

	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	// The key set keeps using this context for JWKS refreshes after NewProvider returns.
	op, err := gooidc.NewProvider(p.clientContext(context.WithoutCancel(ctx)), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: config.ClientID})

	p.config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURL,
		Scopes:       strings.Fields(config.Scope),
		Endpoint:     op.Endpoint(),
	}
	return p, nil
}

// Begin starts an authorization-code flow and returns the URL to send the user to
// along with the state that Complete expects back.
func (p *Provider) Begin(ctx context.Context) (authURL, state string, err error) {
	state, err = generateRandomString(32)
	if err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := generateRandomString(32)
	if err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}

	if err := p.states.Save(ctx, state, nonce, p.stateTTL); err != nil {
		return "", "", fmt.Errorf("save login state: %w", err)
	}

	authURL = p.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	return authURL, state, nil
}

// Complete exchanges the authorization code, verifies the ID token and establishes the
// session. Registered handlers receive SIGNED_IN.
func (p *Provider) Complete(ctx context.Context, code, state string) (*session.Session, error) {
	if code == "" {
		return nil, apperrors.Validation("authorization code is required")
	}
	if state == "" {
		return nil, apperrors.Validation("state is required")
	}
	nonce, ok, err := p.states.Take(ctx, state)
	if err != nil {
		return nil, apperrors.CacheUnavailable(fmt.Errorf("load login state: %w", err))
	}
	if !ok {
		return nil, apperrors.Validation("unknown or reused state")
	}

	cctx := p.clientContext(ctx)
	token, err := p.config.Exchange(cctx, code)
	if err != nil {
		return nil, apperrors.ProviderUnavailable(fmt.Errorf("exchange code for token: %w", err))
	}

	fields, err := p.extractFromIDToken(cctx, token, nonce)
	if err != nil {
		return nil, fmt.Errorf("extract id_token: %w", err)
	}
	if fields.email == "" || fields.userID == "" {
		if fillErr := p.fillFromUserInfo(cctx, token.AccessToken, &fields); fillErr != nil {
			return nil, fmt.Errorf("get user info: %w", fillErr)
		}
	}
	if fields.userID == "" {
		return nil, errors.New("identity provider returned no subject")
	}

	identity := session.Identity{ID: fields.userID, Email: fields.email}
	p.mu.Lock()
	p.token = token
	p.identity = identity
	out := toSession(identity, token)
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "oidc sign-in completed", "identity_id", identity.ID)
	p.feed.Publish(ctx, session.ChangeEvent{Type: session.EventSignedIn, Session: cloneSession(out)})
	return out, nil
}

// GetCurrentSession returns the live session, refreshing the access token when it is
// close to expiry. A rotated token is announced as TOKEN_REFRESHED; a refresh grant
// rejected by the issuer ends the session and is announced as SIGNED_OUT.
func (p *Provider) GetCurrentSession(ctx context.Context) (*session.Session, error) {
	p.mu.Lock()
	if p.token == nil {
		p.mu.Unlock()
		return nil, nil
	}
	prev := p.token
	if !prev.Valid() && prev.RefreshToken == "" {
		p.endLocked(ctx, "access token expired without refresh token")
		return nil, nil
	}
	fresh, err := p.config.TokenSource(p.clientContext(ctx), prev).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			p.endLocked(ctx, "refresh grant rejected")
			return nil, nil
		}
		p.mu.Unlock()
		return nil, apperrors.ProviderUnavailable(fmt.Errorf("refresh token: %w", err))
	}
	rotated := fresh.AccessToken != prev.AccessToken
	if rotated {
		// Refresh responses may omit the refresh token; keep the one we have.
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = prev.RefreshToken
		}
		p.token = fresh
	}
	out := toSession(p.identity, p.token)
	p.mu.Unlock()

	if rotated {
		p.logger.DebugContext(ctx, "access token refreshed", "identity_id", out.Identity.ID)
		p.feed.Publish(ctx, session.ChangeEvent{Type: session.EventTokenRefreshed, Session: cloneSession(out)})
	}
	return out, nil
}

// endLocked drops the session, releases p.mu and emits SIGNED_OUT.
func (p *Provider) endLocked(ctx context.Context, reason string) {
	p.token = nil
	p.identity = session.Identity{}
	p.mu.Unlock()
	p.logger.InfoContext(ctx, "oidc session ended", "reason", reason)
	p.feed.Publish(ctx, session.ChangeEvent{Type: session.EventSignedOut})
}

// OnChange registers handler for change notifications.
func (p *Provider) OnChange(handler ports.ChangeHandler) func() {
	return p.feed.Subscribe(handler)
}

// SignOut drops the local session, notifies the end-session endpoint when configured and
// emits SIGNED_OUT. The local session is dropped even when the endpoint call fails.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.token = nil
	p.identity = session.Identity{}
	p.mu.Unlock()

	var endErr error
	if token != nil && p.logoutURL != "" {
		endErr = p.endSession(ctx, token)
	}
	p.feed.Publish(ctx, session.ChangeEvent{Type: session.EventSignedOut})
	return endErr
}

func (p *Provider) endSession(ctx context.Context, token *oauth2.Token) error {
	form := url.Values{"client_id": {p.config.ClientID}}
	if raw, err := getIDTokenFromToken(token); err == nil {
		form.Set("id_token_hint", raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.logoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperrors.ProviderUnavailable(fmt.Errorf("end session: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return apperrors.ProviderUnavailable(fmt.Errorf("end session: status %d", resp.StatusCode))
	}
	return nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func toSession(identity session.Identity, token *oauth2.Token) *session.Session {
	return &session.Session{
		Identity:     identity,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

func cloneSession(s *session.Session) *session.Session {
	out := *s
	return &out
}

// UserInfo represents the user information from the OIDC userinfo endpoint.
type UserInfo struct {
	Subject        string `json:"sub"`
	SamAccountName string `json:"samaccountname"`
	Email          string `json:"email"`
	Mail           string `json:"mail"`
}

func (p *Provider) getUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	var userInfo UserInfo
	if claimsErr := ui.Claims(&userInfo); claimsErr != nil {
		return nil, fmt.Errorf("decode user info: %w", claimsErr)
	}
	return &userInfo, nil
}

type idFields struct {
	userID string
	email  string
}

func (p *Provider) extractFromIDToken(ctx context.Context, tok *oauth2.Token, expectedNonce string) (idFields, error) {
	var f idFields
	if !p.hasOpenIDScope() {
		return f, nil
	}
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return f, err
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return f, fmt.Errorf("verify id_token: %w", err)
	}
	var claims idTokenClaims
	if claimsErr := idTok.Claims(&claims); claimsErr != nil {
		return f, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return f, errors.New("invalid nonce")
	}
	return mapIDTokenClaims(claims), nil
}

func (p *Provider) fillFromUserInfo(ctx context.Context, accessToken string, f *idFields) error {
	ui, err := p.getUserInfo(ctx, accessToken)
	if err != nil {
		return err
	}
	fillFromUserInfoClaims(f, *ui)
	return nil
}

// idTokenClaims covers both standard OIDC and AD/ADFS claim shapes.
type idTokenClaims struct {
	Sub            string `json:"sub"`
	SamAccountName string `json:"samaccountname"`
	Email          string `json:"email"`
	Mail           string `json:"mail"`
	Nonce          string `json:"nonce"`
}

func mapIDTokenClaims(c idTokenClaims) idFields {
	return idFields{
		userID: firstNonEmpty(c.SamAccountName, c.Sub),
		email:  firstNonEmpty(c.Email, c.Mail),
	}
}

// fillFromUserInfoClaims fills missing fields only.
func fillFromUserInfoClaims(f *idFields, ui UserInfo) {
	if f.userID == "" {
		f.userID = firstNonEmpty(ui.SamAccountName, ui.Subject)
	}
	if f.email == "" {
		f.email = firstNonEmpty(ui.Email, ui.Mail)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// generateRandomString generates a cryptographically secure URL-safe random string of exact length.
func generateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	b := make([]byte, (length*3+3)/4+1)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}

func (p *Provider) hasOpenIDScope() bool {
	for _, sc := range p.config.Scopes {
		if sc == "openid" {
			return true
		}
	}
	return false
}

func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	s, ok := tok.Extra("id_token").(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
