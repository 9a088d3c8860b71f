package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalid     = errors.New("invalid token")
	ErrCredentials = errors.New("invalid credentials")
	ErrNoLogin     = errors.New("login not configured")
)

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

const issuer = "meshnode"

// Authenticator checks admin API credentials. The zero value accepts every
// request.
type Authenticator struct {
	// Token is a static shared bearer token.
	Token string
	// Secret signs and verifies HS256 login tokens.
	Secret []byte
	// Username and PasswordHash (bcrypt) are the only accepted login.
	Username     string
	PasswordHash string
	TTL          time.Duration
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && (a.Token != "" || len(a.Secret) > 0)
}

// CanLogin reports whether the login endpoint can issue tokens.
func (a *Authenticator) CanLogin() bool {
	return a != nil && a.Username != "" && a.PasswordHash != "" && len(a.Secret) > 0
}

// Generate issues a signed token for username valid for ttl.
func (a *Authenticator) Generate(username string, ttl time.Duration) (string, error) {
	if len(a.Secret) == 0 {
		return "", ErrNoLogin
	}
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.Secret)
}

func (a *Authenticator) Parse(tokenStr string) (*Claims, error) {
	if len(a.Secret) == 0 {
		return nil, ErrInvalid
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	if claims, ok := token.Claims.(*Claims); ok {
		return claims, nil
	}
	return nil, ErrInvalid
}

// Login verifies username/password and returns a fresh token.
func (a *Authenticator) Login(username, password string) (string, error) {
	if !a.CanLogin() {
		return "", ErrNoLogin
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.Username)) != 1 {
		return "", ErrCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return "", ErrCredentials
	}
	ttl := a.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return a.Generate(username, ttl)
}

// Subject authenticates r and returns the caller's name: the token
// subject, or "token" for the static bearer token. ok is false when the
// request must be rejected. With no credentials configured every request is
// accepted as "anonymous".
func (a *Authenticator) Subject(r *http.Request) (string, bool) {
	if !a.Enabled() {
		return "anonymous", true
	}
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimPrefix(h, "Bearer ")
	if a.Token != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(a.Token)) == 1 {
		return "token", true
	}
	if claims, err := a.Parse(tok); err == nil {
		return claims.Subject, true
	}
	return "", false
}

// HashPassword returns the bcrypt hash stored in configuration.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
