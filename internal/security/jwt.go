package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess    = "access"
	TokenTypeSession   = "session"
	TokenTypeSingleUse = "single_use"

	PurposeElevation         = "2fa-pending"
	PurposePasswordReset     = "password-reset"
	PurposeEmailVerification = "email-verification"
)

var (
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrWrongTokenType        = errors.New("wrong token type")
	ErrWrongPurpose          = errors.New("wrong token purpose")
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")
)

type Claims struct {
	TokenType string            `json:"token_type"`
	TenantID  *uint             `json:"tenant_id,omitempty"`
	Role      string            `json:"role,omitempty"`
	Email     string            `json:"email,omitempty"`
	SessionID string            `json:"sid,omitempty"`
	Purpose   string            `json:"purpose,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid subject", ErrTokenMalformed)
	}
	return uint(id), nil
}

// ExpiresAtTime returns the expiry or the zero time when the claim is absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

type TokenCodecConfig struct {
	Issuer        string
	Audience      string
	AccessSecret  string
	SessionSecret string
	AccessTTL     time.Duration
	SessionTTL    time.Duration
	ElevationTTL  time.Duration
}

type TokenCodecOption func(*TokenCodec)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

type TokenCodec struct {
	issuer        string
	audience      string
	accessSecret  []byte
	sessionSecret []byte
	accessTTL     time.Duration
	sessionTTL    time.Duration
	elevationTTL  time.Duration
	now           func() time.Time
}

func NewTokenCodec(cfg TokenCodecConfig, opts ...TokenCodecOption) *TokenCodec {
	c := &TokenCodec{
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessSecret:  []byte(cfg.AccessSecret),
		sessionSecret: []byte(cfg.SessionSecret),
		accessTTL:     cfg.AccessTTL,
		sessionTTL:    cfg.SessionTTL,
		elevationTTL:  cfg.ElevationTTL,
		now:           time.Now,
	}
	if c.elevationTTL <= 0 {
		c.elevationTTL = 5 * time.Minute
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TokenCodec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *TokenCodec) SessionTTL() time.Duration { return c.sessionTTL }

func (c *TokenCodec) IssueAccess(userID uint, tenantID *uint, role, email string) (string, *Claims, error) {
	claims := c.baseClaims(TokenTypeAccess, userID, c.accessTTL)
	claims.TenantID = tenantID
	claims.Role = role
	claims.Email = email
	raw, err := c.sign(claims, c.accessSecret)
	if err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

// IssueSession mints a session credential with a fresh session id.
func (c *TokenCodec) IssueSession(userID uint, tenantID *uint) (string, *Claims, error) {
	claims := c.baseClaims(TokenTypeSession, userID, c.sessionTTL)
	claims.TenantID = tenantID
	claims.SessionID = uuid.NewString()
	raw, err := c.sign(claims, c.sessionSecret)
	if err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

func (c *TokenCodec) IssueSingleUse(userID uint, purpose string, extra map[string]string, ttl time.Duration) (string, *Claims, error) {
	if purpose == "" {
		return "", nil, fmt.Errorf("%w: purpose is required", ErrWrongPurpose)
	}
	claims := c.baseClaims(TokenTypeSingleUse, userID, ttl)
	claims.Purpose = purpose
	if len(extra) > 0 {
		claims.Extra = make(map[string]string, len(extra))
		for k, v := range extra {
			claims.Extra[k] = v
		}
	}
	raw, err := c.sign(claims, c.accessSecret)
	if err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

func (c *TokenCodec) IssueElevation(userID uint) (string, *Claims, error) {
	return c.IssueSingleUse(userID, PurposeElevation, nil, c.elevationTTL)
}

func (c *TokenCodec) VerifyAccess(raw string) (*Claims, error) {
	return c.parse(raw, c.accessSecret, TokenTypeAccess)
}

func (c *TokenCodec) VerifySession(raw string) (*Claims, error) {
	claims, err := c.parse(raw, c.sessionSecret, TokenTypeSession)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrTokenMalformed)
	}
	return claims, nil
}

func (c *TokenCodec) VerifySingleUse(raw, purpose string) (*Claims, error) {
	claims, err := c.parse(raw, c.accessSecret, TokenTypeSingleUse)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	return claims, nil
}

func (c *TokenCodec) VerifyElevation(raw string) (*Claims, error) {
	return c.VerifySingleUse(raw, PurposeElevation)
}

func (c *TokenCodec) baseClaims(tokenType string, userID uint, ttl time.Duration) *Claims {
	now := c.now()
	return &Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Audience:  []string{c.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
}

func (c *TokenCodec) sign(claims *Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrSigningKeyUnavailable
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningKeyUnavailable, err)
	}
	return raw, nil
}

func (c *TokenCodec) parse(raw string, secret []byte, tokenType string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrSigningKeyUnavailable
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !tok.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != tokenType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
