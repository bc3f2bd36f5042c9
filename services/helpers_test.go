package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/princinho/vrixsa/database"
	"github.com/princinho/vrixsa/devices"
	"github.com/princinho/vrixsa/identity"
	"github.com/princinho/vrixsa/mailer"
	"github.com/princinho/vrixsa/metrics"
	"github.com/princinho/vrixsa/utils"
	"github.com/stretchr/testify/require"
)

const (
	uaFirefoxLinux = "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"
	uaChromeLinux  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	uaSafariIPhone = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	fail bool
}

func (m *fakeMailer) Enqueue(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("queue unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no email queued")
	return m.sent[len(m.sent)-1]
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var (
	otpPattern = regexp.MustCompile(`\b(\d{6})\b`)
	urlPattern = regexp.MustCompile(`https?://\S+`)
)

func otpFrom(t *testing.T, msg mailer.Message) string {
	t.Helper()
	m := otpPattern.FindStringSubmatch(msg.Body)
	require.Len(t, m, 2, "no otp in %q", msg.Body)
	return m[1]
}

func resetLinkFrom(t *testing.T, msg mailer.Message) (token, user string) {
	t.Helper()
	raw := urlPattern.FindString(msg.Body)
	require.NotEmpty(t, raw, "no link in %q", msg.Body)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/reset", u.Path)
	return u.Query().Get("token"), u.Query().Get("user")
}

type fakeIdentity struct {
	id  *identity.Identity
	err error
}

func (f *fakeIdentity) Verify(_ context.Context, token string) (*identity.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	if token != "good-token" {
		return nil, identity.ErrInvalidToken
	}
	cp := *f.id
	return &cp, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type env struct {
	store    *database.MemoryUserStore
	mail     *fakeMailer
	ident    *fakeIdentity
	clock    *testClock
	verify   *VerificationService
	auth     *AuthService
	codec    *utils.TokenCodec
	registry *metrics.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	codec, err := utils.NewTokenCodec("access-secret", "refresh-secret", "test")
	require.NoError(t, err)

	e := &env{
		store:    database.NewMemoryUserStore(),
		mail:     &fakeMailer{},
		ident:    &fakeIdentity{},
		clock:    &testClock{now: time.Now()},
		codec:    codec,
		registry: metrics.NewRegistry(),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.verify = NewVerificationService(e.store, e.mail, VerificationConfig{ClientURL: "https://app.example/"}, e.registry, log).
		WithClock(e.clock.Now)
	e.auth = NewAuthService(AuthDeps{
		Users:        e.store,
		Codec:        codec,
		Devices:      devices.NewRegistry(devices.PolicyLenient),
		Verification: e.verify,
		Identity:     e.ident,
		Metrics:      e.registry,
		Logger:       log,
	}, AuthConfig{AccessTTL: time.Minute, RefreshTTL: time.Hour, AdminEmail: "boss@example.com"})
	return e
}

func desktop() ClientInfo { return ClientInfo{UserAgent: uaFirefoxLinux, IP: "10.0.0.1"} }

func (e *env) register(t *testing.T, email string) *Session {
	t.Helper()
	sess, err := e.auth.Register(context.Background(), RegisterInput{
		Name: "Jane", Email: email, Password: "password123",
	}, desktop())
	require.NoError(t, err)
	return sess
}
