package auth

import (
	"fmt"
	"time"

	"github.com/Daskott/sheguard/server/auth/key"
	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
)

const (
	Issuer        = "sheguard"
	TokenLifetime = 7 * 24 * time.Hour
)

// PasswordHashCost is the bcrypt cost used by HashPassword.
var PasswordHashCost = 14

type SessionClaims struct {
	Role        string `json:"role"`
	Provisioned bool   `json:"provisioned"`
	jwt.StandardClaims
}

// TokenManager signs and verifies session tokens with a single RSA key pair.
type TokenManager struct {
	keyPair *key.KeyPair
	now     func() time.Time
}

func NewTokenManager(keyPair *key.KeyPair, now func() time.Time) *TokenManager {
	if now == nil {
		now = time.Now
	}
	return &TokenManager{keyPair: keyPair, now: now}
}

func (tm *TokenManager) KeyPair() *key.KeyPair {
	return tm.keyPair
}

// Issue returns a signed token for userID valid for TokenLifetime.
func (tm *TokenManager) Issue(userID, role string) (string, error) {
	issuedAt := tm.now()

	return EncodeJWT(SessionClaims{
		Role:        role,
		Provisioned: role != "",
		StandardClaims: jwt.StandardClaims{
			Subject:   userID,
			Issuer:    Issuer,
			IssuedAt:  issuedAt.Unix(),
			ExpiresAt: issuedAt.Add(TokenLifetime).Unix(),
		},
	}, tm.keyPair)
}

// Verify checks the token signature and expiry against the manager's clock.
func (tm *TokenManager) Verify(tokenString string) (*SessionClaims, error) {
	parser := jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodRS256.Alg()},
		SkipClaimsValidation: true,
	}

	claims := &SessionClaims{}
	_, err := parser.ParseWithClaims(tokenString, claims, tm.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt: %v", err)
	}

	if !claims.VerifyExpiresAt(tm.now().Unix(), true) {
		return nil, fmt.Errorf("invalid jwt: token is expired")
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("invalid jwt: missing subject")
	}

	return claims, nil
}

func (tm *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	return tm.keyPair.PublicKey, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), PasswordHashCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func EncodeJWT(claims SessionClaims, keyPair *key.KeyPair) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyPair.Kid

	tokenString, err := token.SignedString(keyPair.PrivateKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
