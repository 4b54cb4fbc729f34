package authservice

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UserID   uint64 `json:"sub"`
	Username string `json:"username"`
	Type     string `json:"typ"` // "access"
	jwt.RegisteredClaims
}

// Verifier validates access tokens issued by the external identity
// service; both sides share the HS256 secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	if secret == "" {
		secret = "dev-secret"
	}
	return &Verifier{secret: []byte(secret)}
}

// SignAccessToken mints a token with the issuer's claim shape; used by
// tests and local tooling.
func (v *Verifier) SignAccessToken(userID uint64, username string, ttl time.Duration) (string, error) {
	return v.signClaims(&Claims{
		UserID:   userID,
		Username: username,
		Type:     "access",
	}, ttl)
}

func (v *Verifier) signClaims(claims *Claims, ttl time.Duration) (string, error) {
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ParseToken validates the signature and expiry and requires an access
// token; refresh tokens are not accepted on the socket.
func (v *Verifier) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != "" && claims.Type != "access" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
