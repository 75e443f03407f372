package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "batchbot"

var (
	// ErrEmailNotAllowed is returned when logging in with an email that is not on the allow list.
	ErrEmailNotAllowed = errors.New("email is not allowed to sign in")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims issued to a signed-in user. The subject is the
// user's email.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 access tokens.
type TokenService struct {
	secret  []byte
	ttl     time.Duration
	allowed map[string]bool
	now     func() time.Time
}

// NewTokenService creates a token service. Only emails on the allow list may
// log in; an empty list admits nobody.
func NewTokenService(secret string, ttl time.Duration, allowedEmails []string) *TokenService {
	allowed := make(map[string]bool, len(allowedEmails))
	for _, e := range allowedEmails {
		if e = normalizeEmail(e); e != "" {
			allowed[e] = true
		}
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, allowed: allowed, now: time.Now}
}

// Token is an issued access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login issues a token for an allowed email.
func (ts *TokenService) Login(email string) (*Token, error) {
	email = normalizeEmail(email)
	if !ts.allowed[email] {
		return nil, ErrEmailNotAllowed
	}
	return ts.Issue(email)
}

// Issue signs a token for email without consulting the allow list.
func (ts *TokenService) Issue(email string) (*Token, error) {
	now := ts.now()
	expiresAt := now.Add(ts.ttl)
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   email,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}

// Verify checks a token and returns the email it was issued to.
func (ts *TokenService) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(ts.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
