package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/locachat/chatsync/internal/domain"
)

// JWTAuthenticator validates HS256 bearer tokens minted by the account
// service. Only the subject and username claims are consumed here.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

type claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	if token == "" {
		return domain.Principal{}, domain.NewGatewayError(domain.CodeAuthFailed, "missing token", nil)
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Principal{}, domain.NewGatewayError(domain.CodeAuthFailed, "invalid token", err)
	}
	if c.Subject == "" {
		return domain.Principal{}, domain.NewGatewayError(domain.CodeAuthFailed, "token has no subject", nil)
	}

	return domain.Principal{UserID: c.Subject, Username: c.Username}, nil
}
