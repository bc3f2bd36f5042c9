package identity

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/princinho/vrixsa/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"
)

func verifierWith(fn validateFunc) *GoogleVerifier {
	return &GoogleVerifier{audience: "client-id", validate: fn}
}

func TestVerifyMapsPayload(t *testing.T) {
	v := verifierWith(func(_ context.Context, token, aud string) (*idtoken.Payload, error) {
		assert.Equal(t, "tok", token)
		assert.Equal(t, "client-id", aud)
		return &idtoken.Payload{
			Subject: "g-123",
			Claims: map[string]interface{}{
				"email":          "jane@example.com",
				"email_verified": true,
				"name":           "Jane",
			},
		}, nil
	})

	id, err := v.Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, models.AccountGoogle, id.Provider)
	assert.Equal(t, "g-123", id.ExternalID)
	assert.Equal(t, "jane@example.com", id.Email)
	assert.True(t, id.EmailVerified)
	assert.Equal(t, "Jane", id.Name)
}

func TestVerifyRejectsBadToken(t *testing.T) {
	v := verifierWith(func(context.Context, string, string) (*idtoken.Payload, error) {
		return nil, errors.New("idtoken: invalid signature")
	})
	_, err := v.Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresEmail(t *testing.T) {
	v := verifierWith(func(context.Context, string, string) (*idtoken.Payload, error) {
		return &idtoken.Payload{Subject: "g-1", Claims: map[string]interface{}{}}, nil
	})
	_, err := v.Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyNetworkFailureIsUnavailable(t *testing.T) {
	v := verifierWith(func(context.Context, string, string) (*idtoken.Payload, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})
	_, err := v.Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnavailable)
}
