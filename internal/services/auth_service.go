package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"kulit/internal/models"
	"kulit/pkg/rabbitmq"

	"github.com/dgrijalva/jwt-go"
)

// UserStore is the part of the credential store the AuthService needs.
type UserStore interface {
	UserExists(username string) bool
	CreateUser(fullName, username, passwordHash string) bool
	VerifyUser(username, passwordHash string) bool
	UpdatePassword(username, newPasswordHash string) bool
	GetUserInfo(username string) *models.User
}

// EventPublisher publishes activity events. *rabbitmq.Client implements it.
type EventPublisher interface {
	PublishEvent(routingKey string, v any) error
}

// AuthService handles registration, login and session tokens.
type AuthService struct {
	store      UserStore
	publisher  EventPublisher
	jwtSecret  []byte
	tokenDurat time.Duration // Duration for which JWT is valid
	now        func() time.Time
}

// NewAuthService creates a new AuthService. publisher may be nil.
func NewAuthService(store UserStore, jwtSecret string, tokenTTL time.Duration, publisher EventPublisher) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{
		store:      store,
		publisher:  publisher,
		jwtSecret:  []byte(jwtSecret),
		tokenDurat: tokenTTL,
		now:        time.Now,
	}
}

// HashPassword returns the lowercase hex SHA-256 digest of password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Register creates a user. It returns false when the username is taken or
// the store fails; the two cases are not distinguished.
func (s *AuthService) Register(fullName, username, password string) bool {
	if s.store.UserExists(username) {
		log.Printf("Registration rejected: username %s already exists", username)
		return false
	}
	if !s.store.CreateUser(fullName, username, HashPassword(password)) {
		return false
	}
	publish(s.publisher, rabbitmq.EventUserRegistered, username, "account created", s.now())
	return true
}

// Login reports whether username and password match a stored user.
func (s *AuthService) Login(username, password string) bool {
	return s.store.VerifyUser(username, HashPassword(password))
}

// ResetPassword overwrites the stored digest of an existing user. It does
// not ask for the old password.
func (s *AuthService) ResetPassword(username, newPassword string) bool {
	if !s.store.UserExists(username) {
		return false
	}
	return s.store.UpdatePassword(username, HashPassword(newPassword))
}

// GetUserInfo returns the stored user or nil.
func (s *AuthService) GetUserInfo(username string) *models.User {
	return s.store.GetUserInfo(username)
}

// IssueToken returns a signed HS256 session token for username.
func (s *AuthService) IssueToken(username string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"exp":      now.Add(s.tokenDurat).Unix(),
		"iat":      now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a JWT token, returning the claims if valid.
func (s *AuthService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		log.Printf("Token validation error: %v", err)
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if username, _ := claims["username"].(string); username == "" {
			return nil, fmt.Errorf("invalid token: missing username")
		}
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// publish sends an activity event. Failures are logged and never reach the
// caller.
func publish(p EventPublisher, routingKey, username, details string, at time.Time) {
	if p == nil {
		return
	}
	event := rabbitmq.Event{
		Username:   username,
		Activity:   routingKey,
		Details:    details,
		OccurredAt: at,
	}
	if err := p.PublishEvent(routingKey, event); err != nil {
		log.Printf("Error publishing %s event for %s: %v", routingKey, username, err)
	}
}
