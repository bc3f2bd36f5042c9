// Package identity verifies tokens issued by external sign-in providers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/princinho/vrixsa/models"
	"google.golang.org/api/idtoken"
)

var (
	ErrInvalidToken = errors.New("identity token rejected")
	// ErrUnavailable means the provider could not be reached to check the token.
	ErrUnavailable = errors.New("identity provider unavailable")
)

// Identity is what a provider vouches for about the signed-in person.
type Identity struct {
	Provider      models.AccountMethod
	ExternalID    string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

type validateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// GoogleVerifier checks Google ID tokens against the client id they were
// issued for.
type GoogleVerifier struct {
	audience string
	validate validateFunc
}

func NewGoogleVerifier(ctx context.Context, clientID string) (*GoogleVerifier, error) {
	if clientID == "" {
		return nil, errors.New("google client id is required")
	}
	v, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("google validator: %w", err)
	}
	return &GoogleVerifier{audience: clientID, validate: v.Validate}, nil
}

func (g *GoogleVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	payload, err := g.validate(ctx, token, g.audience)
	if err != nil {
		if ctx.Err() != nil || isTransport(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	email, _ := payload.Claims["email"].(string)
	if payload.Subject == "" || email == "" {
		return nil, fmt.Errorf("%w: missing subject or email", ErrInvalidToken)
	}
	verified, _ := payload.Claims["email_verified"].(bool)
	name, _ := payload.Claims["name"].(string)
	picture, _ := payload.Claims["picture"].(string)

	return &Identity{
		Provider:      models.AccountGoogle,
		ExternalID:    payload.Subject,
		Email:         email,
		EmailVerified: verified,
		Name:          name,
		Picture:       picture,
	}, nil
}

// isTransport reports network failures fetching Google's signing certificates.
func isTransport(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
