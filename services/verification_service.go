package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/princinho/vrixsa/apperrors"
	"github.com/princinho/vrixsa/database"
	"github.com/princinho/vrixsa/mailer"
	"github.com/princinho/vrixsa/metrics"
	"github.com/princinho/vrixsa/models"
	"github.com/princinho/vrixsa/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const DefaultOneTimeTTL = 15 * time.Minute

// VerificationService issues and redeems email OTPs and password reset
// tokens. Only hashes are stored; plaintext leaves the process by email.
type VerificationService struct {
	users     UserStore
	mail      Mailer
	metrics   *metrics.Registry
	log       *slog.Logger
	ttl       time.Duration
	clientURL string
	now       func() time.Time
}

type VerificationConfig struct {
	TTL       time.Duration
	ClientURL string
}

func NewVerificationService(users UserStore, mail Mailer, cfg VerificationConfig, m *metrics.Registry, log *slog.Logger) *VerificationService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultOneTimeTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &VerificationService{
		users:     users,
		mail:      mail,
		metrics:   m,
		log:       log,
		ttl:       cfg.TTL,
		clientURL: strings.TrimRight(cfg.ClientURL, "/"),
		now:       time.Now,
	}
}

// WithClock replaces the time source. Tests use it to step across expiry.
func (s *VerificationService) WithClock(now func() time.Time) *VerificationService {
	cp := *s
	cp.now = now
	return &cp
}

func (s *VerificationService) ttlMinutes() int {
	return int(s.ttl / time.Minute)
}

func (s *VerificationService) observe(op string, err *error) {
	outcome := metrics.OutcomeSuccess
	if *err != nil {
		outcome = string(apperrors.KindOf(*err))
	}
	s.metrics.ObserveOperation(op, outcome)
}

func (s *VerificationService) loadUser(ctx context.Context, userID bson.ObjectID) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("user not found")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return user, nil
}

// RequestEmailVerification stores a fresh OTP and queues it to the user.
// queued is false when the mail could not be queued; the stored OTP is then
// cleared so no unusable secret stays behind.
func (s *VerificationService) RequestEmailVerification(ctx context.Context, userID bson.ObjectID) (queued bool, err error) {
	defer s.observe("request_email_verification", &err)

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.IsVerified {
		return false, apperrors.InvalidInput("email already verified")
	}

	otp, err := utils.GenerateOneTimePassword()
	if err != nil {
		return false, apperrors.Internal(err)
	}
	if err := s.users.SetOneTimePassword(ctx, user.ID, utils.HashSecret(otp), s.now().Add(s.ttl)); err != nil {
		return false, apperrors.Internal(err)
	}

	msg := mailer.VerificationEmail(user.Email, user.Name, otp, s.ttlMinutes())
	if err := s.mail.Enqueue(ctx, msg); err != nil {
		s.metrics.EmailQueued("verification", false)
		s.log.Warn("verification email not queued", "user_id", user.ID.Hex(), "error", err)
		if err := s.users.ClearOneTimePassword(ctx, user.ID); err != nil {
			return false, apperrors.Internal(fmt.Errorf("clear otp after enqueue failure: %w", err))
		}
		return false, nil
	}
	s.metrics.EmailQueued("verification", true)
	return true, nil
}

// RedeemOTP marks the user verified. An OTP works once and only before its
// expiry.
func (s *VerificationService) RedeemOTP(ctx context.Context, userID bson.ObjectID, otp string) (user *models.User, err error) {
	defer s.observe("redeem_otp", &err)

	otp = strings.TrimSpace(otp)
	if otp == "" {
		return nil, apperrors.ErrOtpExpiredOrInvalid
	}
	user, err = s.users.ConsumeOneTimePassword(ctx, userID, utils.HashSecret(otp), s.now())
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.ErrOtpExpiredOrInvalid
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	if err := s.mail.Enqueue(ctx, mailer.VerifiedEmail(user.Email, user.Name)); err != nil {
		s.metrics.EmailQueued("verified", false)
		s.log.Warn("verified notice not queued", "user_id", user.ID.Hex(), "error", err)
	} else {
		s.metrics.EmailQueued("verified", true)
	}
	return user, nil
}

// ResetURL is the link mailed for a password reset.
func (s *VerificationService) ResetURL(token string, userID bson.ObjectID) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("user", userID.Hex())
	return s.clientURL + "/reset?" + q.Encode()
}

// RequestPasswordReset stores a reset token for the account owning email
// and mails a link carrying it.
func (s *VerificationService) RequestPasswordReset(ctx context.Context, email string) (queued bool, err error) {
	defer s.observe("request_password_reset", &err)

	email = utils.NormalizeEmail(email)
	if !utils.ValidEmail(email) {
		return false, apperrors.InvalidInput("a valid email is required")
	}
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		return false, apperrors.ErrNotFound.WithMessage("no account with this email")
	}
	if err != nil {
		return false, apperrors.Internal(err)
	}

	token, err := utils.GenerateResetToken()
	if err != nil {
		return false, apperrors.Internal(err)
	}
	if err := s.users.SetResetToken(ctx, user.ID, utils.HashSecret(token), s.now().Add(s.ttl)); err != nil {
		return false, apperrors.Internal(err)
	}

	msg := mailer.PasswordResetEmail(user.Email, user.Name, s.ResetURL(token, user.ID), s.ttlMinutes())
	if err := s.mail.Enqueue(ctx, msg); err != nil {
		s.metrics.EmailQueued("password_reset", false)
		s.log.Warn("password reset email not queued", "user_id", user.ID.Hex(), "error", err)
		if err := s.users.ClearResetToken(ctx, user.ID); err != nil {
			return false, apperrors.Internal(fmt.Errorf("clear reset token after enqueue failure: %w", err))
		}
		return false, nil
	}
	s.metrics.EmailQueued("password_reset", true)
	return true, nil
}

// ResetTokenLive reports whether token is user's unexpired reset token
// without spending it.
func (s *VerificationService) ResetTokenLive(user *models.User, token string) bool {
	token = strings.TrimSpace(token)
	if user == nil || token == "" || user.ResetPasswordExpire == nil {
		return false
	}
	if !s.now().Before(*user.ResetPasswordExpire) {
		return false
	}
	return utils.VerifySecret(token, user.ResetPasswordToken)
}

// RedeemPasswordReset installs newPassword if token is the live reset token
// for userID. Email sign-in is enabled as a side effect.
func (s *VerificationService) RedeemPasswordReset(ctx context.Context, userID bson.ObjectID, token, newPassword string) (user *models.User, err error) {
	defer s.observe("redeem_password_reset", &err)

	if err := validatePassword(newPassword); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.ErrTokenExpiredOrInvalid
	}

	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	user, err = s.users.ConsumeResetToken(ctx, userID, utils.HashSecret(token), s.now(), hash)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.ErrTokenExpiredOrInvalid
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return user, nil
}

func validatePassword(pw string) error {
	if len(pw) < utils.MinPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", utils.MinPasswordLength))
	}
	if len(pw) > utils.MaxPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at most %d bytes", utils.MaxPasswordLength))
	}
	return nil
}
