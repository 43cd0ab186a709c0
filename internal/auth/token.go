package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agora/api/internal/forum"
	"agora/api/internal/rbac"
)

// Claims is the identity the external auth service signs. Tier is a ladder name.
type Claims struct {
	Name       string `json:"name"`
	Handle     string `json:"handle"`
	Tier       string `json:"tier"`
	Role       string `json:"role"`
	Reputation int    `json:"reputation,omitempty"`
	Posts      int    `json:"posts,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func IssueToken(secret []byte, claims Claims) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" || claims.Name == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// Verifier turns bearer tokens into forum callers.
type Verifier struct {
	secret []byte
	ladder *rbac.Ladder
}

func NewVerifier(secret string, ladder *rbac.Ladder) *Verifier {
	return &Verifier{secret: []byte(secret), ladder: ladder}
}

// Caller verifies token. Unknown tiers and roles fall back to the lowest privileges.
func (v *Verifier) Caller(token string) (forum.Caller, error) {
	claims, err := ParseToken(v.secret, strings.TrimSpace(token))
	if err != nil {
		return forum.Caller{}, err
	}
	handle := claims.Handle
	if handle == "" {
		handle = claims.Subject
	}
	return forum.Caller{
		UserID:     claims.Subject,
		Name:       claims.Name,
		Handle:     handle,
		Tier:       v.ladder.Normalize(claims.Tier),
		Role:       rbac.NormalizeRole(claims.Role),
		Reputation: claims.Reputation,
		PostCount:  claims.Posts,
	}, nil
}

// Issue signs a token for a caller; used by tests and local tooling.
func (v *Verifier) Issue(c forum.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	return IssueToken(v.secret, Claims{
		Name:       c.Name,
		Handle:     c.Handle,
		Tier:       v.ladder.Name(c.Tier),
		Role:       string(c.Role),
		Reputation: c.Reputation,
		Posts:      c.PostCount,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}
