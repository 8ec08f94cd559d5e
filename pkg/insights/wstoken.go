package insights

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	TokenExpiry     = 10 * time.Minute
	APIKeyMinLength = 32
)

// WSToken is a signed bearer token for the socket handshake.
type WSToken struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *WSToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TTL returns the remaining lifetime, never negative.
func (t *WSToken) TTL(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

func ValidateAPIKeyFormat(apiKey string) error {
	if len(apiKey) < APIKeyMinLength {
		return NewError("Invalid API key format", ErrCodeTokenFailed).AddDetail("min_length", APIKeyMinLength)
	}
	return nil
}

// GenerateToken signs an HS256 token with the API key. Only a short prefix of
// the key is embedded in the claims.
func GenerateToken(apiKey, userID string, now time.Time) (*WSToken, error) {
	if err := ValidateAPIKeyFormat(apiKey); err != nil {
		return nil, err
	}
	expiresAt := now.Add(TokenExpiry)

	claims := jwt.MapClaims{
		"apiKey": apiKey[:8] + "...",
		"iat":    now.Unix(),
		"exp":    expiresAt.Unix(),
	}
	if userID != "" {
		claims["userId"] = userID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(apiKey))
	if err != nil {
		return nil, WrapError(err, ErrCodeTokenFailed)
	}
	return &WSToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// DecodeToken verifies token against apiKey and returns its claims.
func DecodeToken(token, apiKey string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, NewError("unexpected signing method "+t.Method.Alg(), ErrCodeTokenFailed)
		}
		return []byte(apiKey), nil
	})
	if err != nil {
		return nil, WrapError(err, ErrCodeTokenFailed)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, NewError("Invalid token", ErrCodeTokenFailed)
	}
	return claims, nil
}

// APIKeyTokenSource signs a fresh token from the API key for every dial.
type APIKeyTokenSource struct {
	APIKey string
	UserID string
	now    func() time.Time
}

func NewAPIKeyTokenSource(apiKey, userID string) *APIKeyTokenSource {
	return &APIKeyTokenSource{APIKey: apiKey, UserID: userID, now: time.Now}
}

func (s *APIKeyTokenSource) Token(ctx context.Context) (string, error) {
	t, err := GenerateToken(s.APIKey, s.UserID, s.now())
	if err != nil {
		return "", err
	}
	return t.Token, nil
}
