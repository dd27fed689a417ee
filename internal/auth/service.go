// Package auth validates bearer tokens and issues realtime channel tokens.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/config"
)

// ContextUserKey is the gin context key holding the authenticated user id
const ContextUserKey = "user_id"

// Audience of realtime channel tokens
const realtimeAudience = "realtime"

type Service struct {
	config config.AuthConfig
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func NewService(cfg config.AuthConfig) *Service {
	return &Service{config: cfg}
}

// ValidateToken parses an API bearer token signed with the API secret
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return s.parse(tokenString, s.config.JWTSecret)
}

// GenerateRealtimeToken signs a short-lived token for the realtime channel
func (s *Service) GenerateRealtimeToken(userID string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(s.config.RealtimeTokenTTL)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{realtimeAudience},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.RealtimeSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidateRealtimeToken parses a token issued by GenerateRealtimeToken
func (s *Service) ValidateRealtimeToken(tokenString string) (*Claims, error) {
	return s.parse(tokenString, s.config.RealtimeSecret, jwt.WithAudience(realtimeAudience))
}

func (s *Service) parse(tokenString, secret string, opts ...jwt.ParserOption) (*Claims, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret not configured")
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// Middleware authenticates requests by bearer token and stores the user id
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			abort(c, apperrors.New(apperrors.Unauthorized, "missing bearer token"))
			return
		}
		claims, err := s.ValidateToken(tokenString)
		if err != nil {
			abort(c, apperrors.Wrap(apperrors.Unauthorized, err, "invalid bearer token"))
			return
		}
		c.Set(ContextUserKey, claims.UserID)
		c.Next()
	}
}

// UserID returns the authenticated user id of a request
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserKey)
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.Body(err))
}
