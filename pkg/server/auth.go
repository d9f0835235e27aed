package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/port4k/port4k/pkg/store"
)

// AuthService issues and validates JWTs for the web transport. Telnet
// clients authenticate interactively and never see a token.
type AuthService struct {
	store  *store.Store
	jwtKey []byte
	expiry time.Duration
}

// Claims are the JWT claims for an authenticated account.
type Claims struct {
	Account string `json:"account"`
	Admin   bool   `json:"admin"`
	jwt.RegisteredClaims
}

// NewAuthService creates the auth service. An empty secret gets a random
// key, which invalidates all outstanding tokens on restart.
func NewAuthService(st *store.Store, secret string, expiryHours int) *AuthService {
	if expiryHours <= 0 {
		expiryHours = 24
	}
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("auth: cannot generate JWT key: %v", err))
		}
		log.Printf("auth: no jwt_secret configured, using ephemeral key (tokens will not survive restart)")
	}
	return &AuthService{
		store:  st,
		jwtKey: key,
		expiry: time.Duration(expiryHours) * time.Hour,
	}
}

// Login verifies credentials against the account store and returns a
// signed token plus the account record.
func (a *AuthService) Login(name, password string) (string, *store.Account, error) {
	acct, err := a.store.Authenticate(name, password)
	if err != nil {
		return "", nil, err
	}
	token, err := a.issue(acct)
	if err != nil {
		return "", nil, err
	}
	return token, acct, nil
}

// Register creates a new account and returns a signed token for it.
func (a *AuthService) Register(name, password string) (string, *store.Account, error) {
	acct, err := a.store.CreateAccount(name, password)
	if err != nil {
		return "", nil, err
	}
	token, err := a.issue(acct)
	if err != nil {
		return "", nil, err
	}
	return token, acct, nil
}

func (a *AuthService) issue(acct *store.Account) (string, error) {
	now := time.Now()
	claims := &Claims{
		Account: acct.Name,
		Admin:   acct.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			Issuer:    "port4k",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}

// ValidateToken parses and verifies a token, returning its claims.
func (a *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// RefreshToken re-issues a token for a still-valid claim set, checking
// the account still exists.
func (a *AuthService) RefreshToken(tokenString string) (string, error) {
	claims, err := a.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	acct, err := a.store.GetAccount(claims.Account)
	if err != nil {
		return "", err
	}
	return a.issue(acct)
}

// GenerateJWTSecret returns a fresh random secret suitable for the
// jwt_secret config field.
func GenerateJWTSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
