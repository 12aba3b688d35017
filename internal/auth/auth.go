package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is who a token was issued to.
type Identity struct {
	UserId string `json:"userId"`
	Role   string `json:"role"`
}

type Authenticator interface {
	Authenticate(token string) (Identity, error)
}

type Claims struct {
	UserId string `json:"id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens signed with a shared key by the
// account service.
type JWTAuthenticator struct {
	signingKey []byte
	parser     *jwt.Parser
}

func NewJWTAuthenticator(signingKey []byte) *JWTAuthenticator {
	return &JWTAuthenticator{
		signingKey: signingKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (a *JWTAuthenticator) Authenticate(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	var claims Claims
	token, err := a.parser.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return a.signingKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserId == "" {
		return Identity{}, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = RoleUser
	}

	return Identity{UserId: claims.UserId, Role: role}, nil
}

// IssueToken signs a token for id that expires after exp.
func (a *JWTAuthenticator) IssueToken(id Identity, exp time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserId: id.UserId,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(exp)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.signingKey)
}
