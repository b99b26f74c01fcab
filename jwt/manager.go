package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest accepted HMAC secret in bytes.
const MinSecretLength = 32

// Algorithm names a supported HMAC signing algorithm.
type Algorithm string

const (
	// HS256 is HMAC-SHA256, the default.
	HS256 Algorithm = "HS256"
	// HS384 is HMAC-SHA384.
	HS384 Algorithm = "HS384"
	// HS512 is HMAC-SHA512.
	HS512 Algorithm = "HS512"
)

// ParseAlgorithm accepts the algorithm name in any case. Empty selects HS256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToUpper(strings.TrimSpace(s))) {
	case "", HS256:
		return HS256, nil
	case HS384:
		return HS384, nil
	case HS512:
		return HS512, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
}

// TokenType is the typ claim that separates access from refresh tokens.
type TokenType string

const (
	// TypeAccess marks short-lived tokens presented on every request.
	TypeAccess TokenType = "access"
	// TypeRefresh marks long-lived tokens that only mint access tokens.
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrSecretTooShort is returned by NewManager when a signing secret is shorter than MinSecretLength.
	ErrSecretTooShort = errors.New("jwt secret must be at least 32 bytes")
	// ErrUnsupportedAlgorithm is returned for algorithms outside HS256, HS384 and HS512.
	ErrUnsupportedAlgorithm = errors.New("unsupported jwt signing algorithm")
	// ErrInvalidTTL is returned when a token lifetime is not positive.
	ErrInvalidTTL = errors.New("invalid token ttl")

	// ErrInvalidToken is returned for bad signatures, malformed tokens and claim failures other than expiry.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when exp is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrWrongTokenType is returned when the typ claim is not the expected one.
	ErrWrongTokenType = errors.New("wrong token type")
)

// Config configures a Manager.
//
// VerifyKeys optionally maps kid header values to older secrets so tokens
// signed before a secret rotation keep verifying. When it is set, KeyID must
// name the current Secret and every issued token carries a kid header.
type Config struct {
	Secret       []byte
	Algorithm    Algorithm
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	Issuer       string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	KeyID        string
	VerifyKeys   map[string][]byte
	Now          func() time.Time
}

// Manager issues and verifies signed access and refresh tokens. It holds no
// mutable state and is safe for concurrent use.
type Manager struct {
	config Config
	method jwt.SigningMethod
}

// Subject is the identity encoded into a token.
type Subject struct {
	AccountID string
	Email     string
	Role      string
	SessionID string
}

// Claims is the claim set of both token kinds.
type Claims struct {
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Type      TokenType `json:"typ"`
	SessionID string    `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Issued is a freshly signed token with its id and expiry.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// NewManager validates cfg and returns a Manager. Every error it returns is
// a startup configuration error.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	alg, err := ParseAlgorithm(string(cfg.Algorithm))
	if err != nil {
		return nil, err
	}
	cfg.Algorithm = alg
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, ErrInvalidTTL
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < MinSecretLength {
			return nil, fmt.Errorf("%w: verify key %q", ErrSecretTooShort, kid)
		}
	}
	if len(cfg.VerifyKeys) > 0 && cfg.KeyID == "" {
		return nil, errors.New("KeyID is required when VerifyKeys is set")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cfg.Secret = append([]byte(nil), cfg.Secret...)
	return &Manager{config: cfg, method: signingMethod(alg)}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// Algorithm returns the signing algorithm in use.
func (m *Manager) Algorithm() Algorithm { return m.config.Algorithm }

// IssueAccess signs an access token for sub.
func (m *Manager) IssueAccess(sub Subject) (Issued, error) {
	return m.issue(sub, TypeAccess, m.config.AccessTTL)
}

// IssueRefresh signs a refresh token for sub. The returned ID is the jti the
// session store keys rotation on.
func (m *Manager) IssueRefresh(sub Subject) (Issued, error) {
	return m.issue(sub, TypeRefresh, m.config.RefreshTTL)
}

func (m *Manager) issue(sub Subject, typ TokenType, ttl time.Duration) (Issued, error) {
	if sub.AccountID == "" {
		return Issued{}, errors.New("token subject is required")
	}

	now := m.config.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Email:     sub.Email,
		Role:      sub.Role,
		Type:      typ,
		SessionID: sub.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.AccountID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    m.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.config.Secret)
	if err != nil {
		return Issued{}, err
	}

	return Issued{Token: signed, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks signature, expiry, issuer and the typ claim of tokenStr.
//
// It returns ErrExpiredToken for expired tokens, ErrWrongTokenType when typ
// differs from want, and ErrInvalidToken for everything else.
func (m *Manager) Verify(tokenStr string, want TokenType) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithTimeFunc(m.config.Now),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(m.config.Now().Add(m.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalidToken)
	}
	switch claims.Type {
	case want:
	case TypeAccess, TypeRefresh:
		return nil, ErrWrongTokenType
	default:
		return nil, fmt.Errorf("%w: unknown typ", ErrInvalidToken)
	}

	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	if m.config.KeyID == "" {
		return m.config.Secret, nil
	}

	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid")
	}
	if kid == m.config.KeyID {
		return m.config.Secret, nil
	}
	key, ok := m.config.VerifyKeys[kid]
	if !ok {
		return nil, errors.New("unknown kid")
	}
	return key, nil
}

func signingMethod(alg Algorithm) jwt.SigningMethod {
	switch alg {
	case HS384:
		return jwt.SigningMethodHS384
	case HS512:
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}
