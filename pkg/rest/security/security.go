/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package security

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"github.com/matterminers/tardis/pkg/config"
	tardiserrors "github.com/matterminers/tardis/pkg/errors"
)

// TokenData is the authenticated identity carried by a valid bearer token.
type TokenData struct {
	Username string
	Scopes   []string
}

// UnauthorizedError rejects a request with the detail to serve and the
// WWW-Authenticate challenge to attach.
type UnauthorizedError struct {
	Detail    string
	Challenge string
}

func (e *UnauthorizedError) Error() string {
	return e.Detail
}

// challengeFor builds the WWW-Authenticate value: a bare scheme when the
// endpoint required no scopes, the scope list otherwise.
func challengeFor(requiredScopes []string) string {
	if len(requiredScopes) == 0 {
		return "Bearer"
	}
	return fmt.Sprintf("Bearer scope=%q", strings.Join(requiredScopes, " "))
}

// NewCredentialsError rejects a missing or invalid token.
func NewCredentialsError(requiredScopes []string) *UnauthorizedError {
	return &UnauthorizedError{
		Detail:    "Could not validate credentials",
		Challenge: challengeFor(requiredScopes),
	}
}

func newPermissionsError(requiredScopes []string) *UnauthorizedError {
	return &UnauthorizedError{
		Detail:    "Not enough permissions",
		Challenge: challengeFor(requiredScopes),
	}
}

// accessClaims is the token payload. Field order matters: previously
// issued tokens were signed with sub serialized before scopes.
type accessClaims struct {
	Subject   string           `json:"sub"`
	Scopes    []string         `json:"scopes"`
	ExpiresAt *jwt.NumericDate `json:"exp,omitempty"`
}

func (c accessClaims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c accessClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (c accessClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c accessClaims) GetIssuer() (string, error)                   { return "", nil }
func (c accessClaims) GetSubject() (string, error)                  { return c.Subject, nil }
func (c accessClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// Provider issues and validates HMAC-signed bearer tokens using the REST
// service credentials from the configuration. The credentials are resolved
// once on first use and cached until Reload.
type Provider struct {
	config *config.Configuration
	clock  clock.PassiveClock

	mu     sync.Mutex
	cached *config.RestAPI
}

type ProviderOption func(*Provider)

// WithClock injects the clock used for token expiry.
func WithClock(clk clock.PassiveClock) ProviderOption {
	return func(p *Provider) {
		p.clock = clk
	}
}

func NewProvider(cfg *config.Configuration, opts ...ProviderOption) *Provider {
	p := &Provider{
		config: cfg,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reload drops the cached credentials so the next operation re-reads the
// configuration.
func (p *Provider) Reload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

func (p *Provider) restAPI() (*config.RestAPI, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil {
		return p.cached, nil
	}
	restAPI, err := p.config.RestAPI()
	if err != nil {
		return nil, err
	}
	p.cached = restAPI
	return restAPI, nil
}

type tokenOptions struct {
	expiresIn time.Duration
	secretKey string
	algorithm string
}

type TokenOption func(*tokenOptions)

// WithExpiresIn gives the token a lifetime; without it the token never
// expires.
func WithExpiresIn(expiresIn time.Duration) TokenOption {
	return func(o *tokenOptions) {
		o.expiresIn = expiresIn
	}
}

// WithSecretKey signs with the given key instead of the configured one.
func WithSecretKey(secretKey string) TokenOption {
	return func(o *tokenOptions) {
		o.secretKey = secretKey
	}
}

// WithAlgorithm signs with the given algorithm instead of the configured
// one.
func WithAlgorithm(algorithm string) TokenOption {
	return func(o *tokenOptions) {
		o.algorithm = algorithm
	}
}

// CreateAccessToken issues a signed bearer token for the given user and
// scopes.
func (p *Provider) CreateAccessToken(userName string, scopes []string, opts ...TokenOption) (string, error) {
	restAPI, err := p.restAPI()
	if err != nil {
		return "", err
	}
	options := tokenOptions{
		secretKey: restAPI.SecretKey,
		algorithm: restAPI.Algorithm,
	}
	for _, opt := range opts {
		opt(&options)
	}

	method, err := signingMethod(options.algorithm)
	if err != nil {
		return "", err
	}
	claims := accessClaims{
		Subject: userName,
		Scopes:  scopes,
	}
	if options.expiresIn > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(p.clock.Now().Add(options.expiresIn))
	}
	return jwt.NewWithClaims(method, claims).SignedString([]byte(options.secretKey))
}

// CheckAuthorization validates the bearer token and verifies it grants
// every required scope. Any defect in the token itself is reported as a
// credentials failure; a valid token lacking scopes as a permissions
// failure.
func (p *Provider) CheckAuthorization(requiredScopes []string, token string) (TokenData, error) {
	restAPI, err := p.restAPI()
	if err != nil {
		return TokenData{}, err
	}
	if _, err := signingMethod(restAPI.Algorithm); err != nil {
		return TokenData{}, err
	}

	claims := &accessClaims{}
	_, err = jwt.NewParser(
		jwt.WithValidMethods([]string{restAPI.Algorithm}),
		jwt.WithTimeFunc(p.clock.Now),
	).ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(restAPI.SecretKey), nil
	})
	if err != nil || claims.Subject == "" {
		return TokenData{}, NewCredentialsError(requiredScopes)
	}
	if missing := lo.Without(requiredScopes, claims.Scopes...); len(missing) > 0 {
		return TokenData{}, newPermissionsError(requiredScopes)
	}
	return TokenData{Username: claims.Subject, Scopes: claims.Scopes}, nil
}

func signingMethod(algorithm string) (jwt.SigningMethod, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, tardiserrors.NewConfigError("unknown signing algorithm %q", algorithm)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, tardiserrors.NewConfigError("unsupported signing algorithm %q, only HMAC variants are supported", algorithm)
	}
	return method, nil
}
