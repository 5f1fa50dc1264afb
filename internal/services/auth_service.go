package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer = "churn-insight"
	RoleAdmin   = "admin"
)

var (
	ErrInvalidAdminKey = errors.New("invalid admin key")
	ErrAdminDisabled   = errors.New("admin access is not configured")
)

// AuthService exchanges the admin key for short-lived tokens that guard the
// pipeline triggers.
type AuthService struct {
	secret  []byte
	ttl     time.Duration
	keyHash string
	now     func() time.Time
}

func NewAuthService(secret string, ttl time.Duration, adminKeyHash string) *AuthService {
	return &AuthService{secret: []byte(secret), ttl: ttl, keyHash: adminKeyHash, now: time.Now}
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken checks key against the stored bcrypt hash and signs an admin token.
func (s *AuthService) IssueToken(key string) (string, time.Time, error) {
	if s.keyHash == "" {
		return "", time.Time{}, ErrAdminDisabled
	}
	if !CheckKeyHash(key, s.keyHash) {
		return "", time.Time{}, ErrInvalidAdminKey
	}
	now := s.now()
	expires := now.Add(s.ttl)
	claims := &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Role != RoleAdmin {
		return nil, errors.New("token lacks admin role")
	}
	return claims, nil
}

// HashKey returns the bcrypt hash to put in ADMIN_KEY_HASH.
func HashKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}

func CheckKeyHash(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

func GetClientIPv4(c *gin.Context) string {
	ip := c.ClientIP()

	switch ip {
	case "::1":
		return "127.0.0.1"
	default:
		if strings.HasPrefix(ip, "::ffff:") {
			return ip[7:]
		}
	}

	return ip
}
