package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/84adam/arkvault/api"
)

const (
	tokenIssuer   = "arkvault-auth"
	tokenAudience = "arkvault-api"
)

// Claims binds an access token to one server-side session.
type Claims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// GenerateToken issues a token for email bound to sessionID.
func (ti *TokenIssuer) GenerateToken(email, sessionID string) (string, error) {
	if email == "" || sessionID == "" {
		return "", errors.New("email and session ID are required")
	}
	now := ti.now()
	claims := &Claims{
		Email:     email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Audience:  []string{tokenAudience},
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// ParseToken validates a raw token outside of echo.
func (ti *TokenIssuer) ParseToken(raw string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token.
func (ti *TokenIssuer) Middleware() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(Claims)
		},
		SigningKey:    ti.secret,
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, api.Response{Code: api.CodeUnauthorized, Message: "Unauthorized"})
		},
	})
}

// ClaimsFromContext returns the claims installed by Middleware.
func ClaimsFromContext(c echo.Context) (*Claims, bool) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil {
		return nil, false
	}
	claims, ok := token.Claims.(*Claims)
	return claims, ok
}
