package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iamasit07/broadside/pkg/httputil"
)

// Claims represents JWT claims for access tokens
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 access tokens minted by the account service and
// yields the stable identity they carry.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Issue signs a token for username. The account service owns issuance in
// production; this is used by local tooling and tests.
func (v *Verifier) Issue(username string, ttl time.Duration) (string, error) {
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify validates a JWT access token and returns the claims
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Username == "" {
		return nil, errors.New("token carries no username")
	}
	return claims, nil
}

// Authenticate resolves the identity behind an upgrade or API request.
func (v *Verifier) Authenticate(r *http.Request) (string, error) {
	tokenString, err := httputil.GetTokenFromRequest(r)
	if err != nil {
		return "", err
	}
	claims, err := v.Verify(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Username, nil
}
