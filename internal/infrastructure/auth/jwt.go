package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/disbursement-approvals/internal/application/port"
	"github.com/garyjia/disbursement-approvals/internal/domain/errs"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Claims carried by actor tokens
type Claims struct {
	CompanyID string `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

// Config holds token signing settings
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// JWTManager issues and verifies HS256 actor tokens
type JWTManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTManager creates a new JWTManager
func NewJWTManager(cfg Config) (*JWTManager, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("jwt issuer is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTManager{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue signs a token for userID. companyID is empty for platform operators.
func (m *JWTManager) Issue(userID, companyID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := &Claims{
		CompanyID: companyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Authenticate implements port.Authenticator
func (m *JWTManager) Authenticate(ctx context.Context, token string) (*port.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errs.New(errs.KindUnauthenticated, "missing bearer token")
	}

	claims := new(Claims)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errs.Wrap(err, errs.KindUnauthenticated, "invalid token")
	}
	if claims.Subject == "" {
		return nil, errs.New(errs.KindUnauthenticated, "token has no subject")
	}

	return &port.Identity{
		UserID:    claims.Subject,
		CompanyID: claims.CompanyID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify interface compliance
var _ port.Authenticator = (*JWTManager)(nil)
