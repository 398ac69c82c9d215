package restapi

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fivetwenty-io/restclient/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrInvalidPrivateKey = errors.New("invalid assertion private key")
	ErrEmptyAssertion    = errors.New("assertion has neither a static token nor a signing key")
)

const (
	// assertionLifetime is the validity window of a minted assertion.
	assertionLifetime = 10 * time.Minute

	// assertionClockSkew backdates iat to tolerate server clock drift.
	assertionClockSkew = 60 * time.Second
)

// Credential is the authentication material active on a client. The set of
// implementations is closed: BasicKeyPair, BearerToken, *SignedAssertion and
// *DelegatedAccessToken.
type Credential interface {
	// Masked returns a representation safe to write to logs.
	Masked() string

	isCredential()
}

// AuthConstraint restricts which credential variants a call accepts.
type AuthConstraint int

const (
	// Unconstrained accepts whatever credential is active.
	Unconstrained AuthConstraint = iota
	// AssertionOnly requires a SignedAssertion, either directly or the one
	// owned by a DelegatedAccessToken.
	AssertionOnly
)

// String implements fmt.Stringer.
func (c AuthConstraint) String() string {
	switch c {
	case Unconstrained:
		return "unconstrained"
	case AssertionOnly:
		return "assertion-only"
	default:
		return "unknown"
	}
}

// BasicKeyPair is a client id and secret sent as query parameters.
type BasicKeyPair struct {
	ClientID     string
	ClientSecret string
}

// Masked implements Credential.
func (k BasicKeyPair) Masked() string {
	return fmt.Sprintf("client %s:%s", k.ClientID, mask(k.ClientSecret))
}

func (BasicKeyPair) isCredential() {}

// BearerToken is a static token sent in the Authorization header.
type BearerToken struct {
	Token string
	// Scheme is the Authorization scheme. Defaults to "token".
	Scheme string
}

// AuthorizationHeader returns the Authorization header value.
func (t BearerToken) AuthorizationHeader() string {
	scheme := t.Scheme
	if scheme == "" {
		scheme = "token"
	}

	return scheme + " " + t.Token
}

// Masked implements Credential.
func (t BearerToken) Masked() string {
	return "token " + mask(t.Token)
}

func (BearerToken) isCredential() {}

// SignedAssertion is a JWT sent as "Authorization: Bearer <jwt>". It is
// either a fixed token or minted on demand from an app id and RSA key.
type SignedAssertion struct {
	static string

	issuer string
	key    *rsa.PrivateKey
	now    func() time.Time

	mu        sync.Mutex
	minted    string
	expiresAt time.Time
}

// NewStaticAssertion wraps an already signed token.
func NewStaticAssertion(token string) *SignedAssertion {
	return &SignedAssertion{static: token, now: time.Now}
}

// NewSignedAssertion creates an assertion that mints RS256 JWTs for appID
// from a PEM-encoded RSA private key (PKCS1 or PKCS8).
func NewSignedAssertion(appID int64, privateKeyPEM []byte) (*SignedAssertion, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}

	return &SignedAssertion{
		issuer: strconv.FormatInt(appID, 10),
		key:    key,
		now:    time.Now,
	}, nil
}

// WithClock replaces the time source used for minting. Intended for tests.
func (a *SignedAssertion) WithClock(now func() time.Time) *SignedAssertion {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.now = now

	return a
}

// Token returns a signed assertion, minting a new one when the previous one
// is within the token expiration buffer of expiring.
func (a *SignedAssertion) Token() (string, error) {
	if a.static != "" {
		return a.static, nil
	}

	if a.key == nil {
		return "", ErrEmptyAssertion
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.minted != "" && now.Add(constants.TokenExpirationBuffer).Before(a.expiresAt) {
		return a.minted, nil
	}

	expiresAt := now.Add(assertionLifetime)
	claims := jwt.RegisteredClaims{
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now.Add(-assertionClockSkew)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}

	a.minted = signed
	a.expiresAt = expiresAt

	return signed, nil
}

// Masked implements Credential.
func (a *SignedAssertion) Masked() string {
	if a.static != "" {
		return "assertion " + mask(a.static)
	}

	return "assertion for app " + a.issuer
}

func (*SignedAssertion) isCredential() {}

// Token is a short-lived access token value and its expiry.
type Token struct {
	Value string
	// ExpiresAt is the zero time when the expiry is unknown.
	ExpiresAt time.Time
}

// Valid reports whether the token is usable at now, treating tokens within
// the token expiration buffer of expiry as stale.
func (t *Token) Valid(now time.Time) bool {
	if t == nil || t.Value == "" {
		return false
	}

	if t.ExpiresAt.IsZero() {
		return true
	}

	return now.Add(constants.TokenExpirationBuffer).Before(t.ExpiresAt)
}

// DelegatedAccessToken is an installation-scoped token minted with a
// SignedAssertion. The current value lives in a slot shared by every holder
// of this credential: refreshes publish under the write lock, readers take
// the read lock.
type DelegatedAccessToken struct {
	installationID int64
	assertion      *SignedAssertion

	mu    sync.RWMutex
	token *Token
}

// NewDelegatedAccessToken creates a delegated token with an empty slot.
func NewDelegatedAccessToken(installationID int64, assertion *SignedAssertion) *DelegatedAccessToken {
	return &DelegatedAccessToken{
		installationID: installationID,
		assertion:      assertion,
	}
}

// InstallationID returns the installation the token is scoped to.
func (d *DelegatedAccessToken) InstallationID() int64 {
	return d.installationID
}

// Assertion returns the assertion used to mint new tokens.
func (d *DelegatedAccessToken) Assertion() *SignedAssertion {
	return d.assertion
}

// Current returns the live token value, or false when the slot is empty or
// the token is stale at now.
func (d *DelegatedAccessToken) Current(now time.Time) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.token.Valid(now) {
		return "", false
	}

	return d.token.Value, true
}

// Publish replaces the slot's token.
func (d *DelegatedAccessToken) Publish(token Token) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.token = &token
}

// Invalidate empties the slot so the next request refreshes.
func (d *DelegatedAccessToken) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.token = nil
}

// Masked implements Credential.
func (d *DelegatedAccessToken) Masked() string {
	return fmt.Sprintf("installation %d", d.installationID)
}

func (*DelegatedAccessToken) isCredential() {}

func mask(secret string) string {
	const visible = 4
	if len(secret) <= visible {
		return "****"
	}

	return secret[:visible] + "****"
}
