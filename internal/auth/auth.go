package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"chat-order/internal/entity"
)

const contextKey = "user"

// Claims identifies the actor behind a request. The subject is the actor id.
type Claims struct {
	Name string      `json:"name"`
	Role entity.Role `json:"role"`
	jwt.RegisteredClaims
}

// Validate is called by the jwt parser after the registered claims checks.
func (c *Claims) Validate() error {
	if c.Subject == "" {
		return errors.New("token has no subject")
	}
	switch c.Role {
	case entity.RoleCustomer, entity.RoleMR, entity.RoleDistributor:
		return nil
	}
	return fmt.Errorf("unknown role %q", c.Role)
}

func (c *Claims) Actor() entity.Actor {
	return entity.Actor{ID: c.Subject, Role: c.Role}
}

// Sign issues an HS256 token for actor valid for ttl.
func Sign(secret []byte, actor entity.Actor, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: name,
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Parse verifies token and returns its claims.
func Parse(secret []byte, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token.
func Middleware(secret []byte) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey: secret,
		ContextKey: contextKey,
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return new(Claims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, entity.ErrorResponse{Error: "invalid or missing token", Code: "validation"})
		},
	})
}

// ActorFrom returns the actor authenticated by Middleware.
func ActorFrom(c echo.Context) (entity.Actor, error) {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok {
		return entity.Actor{}, errors.New("request is not authenticated")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return entity.Actor{}, errors.New("unexpected token claims")
	}
	return claims.Actor(), nil
}

// Peek decodes token without verifying its signature. Clients use it to learn
// who they are; the authority still verifies every request.
func Peek(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	if err := claims.Validate(); err != nil {
		return nil, err
	}
	return claims, nil
}
