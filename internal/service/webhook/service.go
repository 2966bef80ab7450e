package webhook

import (
	"crypto/subtle"
	"errors"
	"log/slog"
)

// ErrInvalidSecret is returned when a request's secret does not match.
var ErrInvalidSecret = errors.New("invalid secret")

// Service authenticates inbound deployment requests with a shared secret.
type Service struct {
	secret []byte
	logger *slog.Logger
}

// New constructs a webhook service for the configured shared secret.
func New(secret string, logger *slog.Logger) Service {
	return Service{secret: []byte(secret), logger: logger}
}

// Authenticate compares the provided secret in constant time.
func (s Service) Authenticate(task, provided string) error {
	if len(s.secret) == 0 || subtle.ConstantTimeCompare([]byte(provided), s.secret) != 1 {
		if s.logger != nil {
			s.logger.Warn("rejected request secret", "task", task)
		}
		return ErrInvalidSecret
	}
	return nil
}
