package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/princinho/vrixsa/apperrors"
	"github.com/princinho/vrixsa/database"
	"github.com/princinho/vrixsa/devices"
	"github.com/princinho/vrixsa/identity"
	"github.com/princinho/vrixsa/metrics"
	"github.com/princinho/vrixsa/models"
	"github.com/princinho/vrixsa/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type AuthConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// AdminEmail signs up with the ADMIN role.
	AdminEmail string
}

type AuthDeps struct {
	Users        UserStore
	Codec        *utils.TokenCodec
	Devices      *devices.Registry
	Verification *VerificationService
	Identity     IdentityVerifier
	Metrics      *metrics.Registry
	Logger       *slog.Logger
}

// AuthService issues sessions and keeps each device's refresh token in step
// with what the store holds for it.
type AuthService struct {
	users        UserStore
	codec        *utils.TokenCodec
	devices      *devices.Registry
	verification *VerificationService
	identity     IdentityVerifier
	metrics      *metrics.Registry
	log          *slog.Logger
	cfg          AuthConfig
}

func NewAuthService(deps AuthDeps, cfg AuthConfig) *AuthService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 14 * 24 * time.Hour
	}
	cfg.AdminEmail = utils.NormalizeEmail(cfg.AdminEmail)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := deps.Devices
	if reg == nil {
		reg = devices.NewRegistry(devices.PolicyLenient)
	}
	return &AuthService{
		users:        deps.Users,
		codec:        deps.Codec,
		devices:      reg,
		verification: deps.Verification,
		identity:     deps.Identity,
		metrics:      deps.Metrics,
		log:          log,
		cfg:          cfg,
	}
}

func (s *AuthService) observe(op string, err *error) {
	outcome := metrics.OutcomeSuccess
	if *err != nil {
		outcome = string(apperrors.KindOf(*err))
	}
	s.metrics.ObserveOperation(op, outcome)
}

func (s *AuthService) roleFor(email string) models.Role {
	if s.cfg.AdminEmail != "" && email == s.cfg.AdminEmail {
		return models.RoleAdmin
	}
	return models.RoleUser
}

type tokenPair struct {
	access, refresh, refreshHash string
}

func (s *AuthService) signPair(user *models.User, deviceID string) (*tokenPair, error) {
	access, err := s.codec.SignAccessToken(user.ID.Hex(), user.Email, string(user.Role), deviceID, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.codec.SignRefreshToken(user.ID.Hex(), deviceID, s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &tokenPair{access: access, refresh: refresh, refreshHash: utils.HashSecret(refresh)}, nil
}

func (s *AuthService) session(user *models.User, deviceID string, p *tokenPair, newDevice bool) *Session {
	return &Session{
		User:         user,
		DeviceID:     deviceID,
		AccessToken:  p.access,
		RefreshToken: p.refresh,
		AccessTTL:    s.cfg.AccessTTL,
		RefreshTTL:   s.cfg.RefreshTTL,
		NewDevice:    newDevice,
	}
}

// checkDevice returns the recognised device for client, nil when the
// client is new, or DeviceMismatch when the id is known but the request
// looks like a different client.
func (s *AuthService) checkDevice(user *models.User, client ClientInfo, signals devices.Signals) (*models.Device, error) {
	d := s.devices.Match(user, client.DeviceID)
	if d == nil {
		return nil, nil
	}
	if !s.devices.IsConsistent(d, signals) {
		s.metrics.DeviceEvent("mismatch")
		s.log.Warn("device signals do not match", "user_id", user.ID.Hex(), "device_id", d.DeviceID,
			"stored_browser", d.Browser, "browser", signals.Browser, "stored_os", d.OS, "os", signals.OS)
		return nil, apperrors.ErrDeviceMismatch
	}
	return d, nil
}

// establish signs a session for an already authenticated user, reusing the
// caller's device when it is recognised and adding a new one otherwise.
func (s *AuthService) establish(ctx context.Context, user *models.User, client ClientInfo) (*Session, error) {
	signals := devices.ParseSignals(client.UserAgent, client.IP)
	d, err := s.checkDevice(user, client, signals)
	if err != nil {
		return nil, err
	}

	if d != nil {
		pair, err := s.signPair(user, d.DeviceID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		if err := s.users.TouchDevice(ctx, user.ID, d.DeviceID, s.devices.Touch(signals, pair.refreshHash)); err != nil {
			return nil, apperrors.Internal(err)
		}
		s.metrics.DeviceEvent("reused")
		return s.session(user, d.DeviceID, pair, false), nil
	}

	nd := s.devices.NewDevice(signals)
	pair, err := s.signPair(user, nd.DeviceID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	nd.RefreshTokenHash = pair.refreshHash
	if err := s.users.PushDevice(ctx, user.ID, nd); err != nil {
		return nil, apperrors.Internal(err)
	}
	s.metrics.DeviceEvent("created")
	user.Devices = append(user.Devices, nd)
	return s.session(user, nd.DeviceID, pair, true), nil
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

func (in *RegisterInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = utils.NormalizeEmail(in.Email)
	if in.Name == "" {
		return apperrors.InvalidInput("name is required")
	}
	if !utils.ValidEmail(in.Email) {
		return apperrors.InvalidInput("a valid email is required")
	}
	return validatePassword(in.Password)
}

// Register creates an email account signed in on exactly one device and
// queues the verification OTP. A failed enqueue does not fail the signup.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, client ClientInfo) (sess *Session, err error) {
	defer s.observe("register", &err)

	if err := in.normalize(); err != nil {
		return nil, err
	}
	if _, err := s.users.FindByEmail(ctx, in.Email); err == nil {
		return nil, apperrors.ErrDuplicateAccount
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           bson.NewObjectID(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         s.roleFor(in.Email),
		Accounts:     []models.AccountMethod{models.AccountEmail},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sess, err = s.createWithDevice(ctx, user, client)
	if err != nil {
		return nil, err
	}
	s.sendVerification(ctx, user.ID)
	return sess, nil
}

// createWithDevice inserts user with its first device already attached so
// the account never exists without one.
func (s *AuthService) createWithDevice(ctx context.Context, user *models.User, client ClientInfo) (*Session, error) {
	signals := devices.ParseSignals(client.UserAgent, client.IP)
	d := s.devices.NewDevice(signals)
	pair, err := s.signPair(user, d.DeviceID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	d.RefreshTokenHash = pair.refreshHash
	user.Devices = []models.Device{d}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			return nil, apperrors.ErrDuplicateAccount
		}
		return nil, apperrors.Internal(err)
	}
	s.metrics.DeviceEvent("created")
	return s.session(user, d.DeviceID, pair, true), nil
}

func (s *AuthService) sendVerification(ctx context.Context, userID bson.ObjectID) {
	if s.verification == nil {
		return
	}
	queued, err := s.verification.RequestEmailVerification(ctx, userID)
	if err != nil || !queued {
		s.log.Warn("verification email not sent after signup", "user_id", userID.Hex(), "error", err)
	}
}

// Login authenticates with email and password. Unknown email, wrong
// password and accounts without a password all fail the same way.
func (s *AuthService) Login(ctx context.Context, email, password string, client ClientInfo) (sess *Session, err error) {
	defer s.observe("login", &err)

	email = utils.NormalizeEmail(email)
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		utils.BurnPasswordCheck(password)
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !user.HasPassword() {
		utils.BurnPasswordCheck(password)
		return nil, apperrors.ErrInvalidCredentials
	}
	if err := utils.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}
	if user.IsBlocked {
		return nil, apperrors.ErrAccountBlocked
	}
	return s.establish(ctx, user, client)
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// retired atomically; a token that lost a concurrent rotation is rejected.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (sess *Session, err error) {
	defer s.observe("refresh", &err)

	claims, err := s.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.ErrInvalidRefreshToken.WithCause(err)
	}
	if client.DeviceID != "" && client.DeviceID != claims.DeviceID {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	userID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return nil, apperrors.ErrInvalidRefreshToken
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	d := s.devices.Match(user, claims.DeviceID)
	if d == nil || !utils.VerifySecret(refreshToken, d.RefreshTokenHash) {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if user.IsBlocked {
		return nil, apperrors.ErrAccountBlocked
	}

	signals := devices.ParseSignals(client.UserAgent, client.IP)
	if !s.devices.IsConsistent(d, signals) {
		s.metrics.DeviceEvent("mismatch")
		return nil, apperrors.ErrDeviceMismatch
	}

	pair, err := s.signPair(user, d.DeviceID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	err = s.users.RotateDeviceToken(ctx, user.ID, d.DeviceID, d.RefreshTokenHash, s.devices.Touch(signals, pair.refreshHash))
	if errors.Is(err, database.ErrConflict) {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.metrics.DeviceEvent("rotated")
	return s.session(user, d.DeviceID, pair, false), nil
}

// SocialLogin signs in with a provider token, linking the provider to an
// existing account or creating a passwordless one.
func (s *AuthService) SocialLogin(ctx context.Context, providerToken string, client ClientInfo) (sess *Session, err error) {
	defer s.observe("social_login", &err)

	if s.identity == nil {
		return nil, apperrors.ErrExternalAuthFailed.WithMessage("social login is not configured").WithStatus(http.StatusServiceUnavailable)
	}
	id, err := s.identity.Verify(ctx, providerToken)
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			return nil, apperrors.ErrExternalAuthFailed.WithCause(err).WithStatus(http.StatusBadGateway)
		}
		return nil, apperrors.ErrExternalAuthFailed.WithCause(err)
	}
	email := utils.NormalizeEmail(id.Email)
	if !utils.ValidEmail(email) {
		return nil, apperrors.ErrExternalAuthFailed.WithMessage("provider returned no usable email")
	}

	// A concurrent first sign-in may win the insert; the second pass then
	// finds the account and links it.
	for attempt := 0; attempt < 2; attempt++ {
		user, err := s.users.FindByEmail(ctx, email)
		if err == nil {
			return s.socialSignIn(ctx, user, id, client)
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.Internal(err)
		}

		sess, err := s.socialSignUp(ctx, email, id, client)
		if errors.Is(err, apperrors.ErrDuplicateAccount) {
			continue
		}
		return sess, err
	}
	return nil, apperrors.ErrExternalAuthFailed
}

func (s *AuthService) socialSignIn(ctx context.Context, user *models.User, id *identity.Identity, client ClientInfo) (*Session, error) {
	if user.IsBlocked {
		return nil, apperrors.ErrAccountBlocked
	}
	linked := user.ExternalID(id.Provider)
	if linked != id.ExternalID {
		if linked != "" {
			return nil, apperrors.ErrExternalAuthFailed.WithMessage("account is linked to a different external identity")
		}
		if !id.EmailVerified {
			return nil, apperrors.ErrExternalAuthFailed.WithMessage("provider email is not verified")
		}
		updated, err := s.users.LinkProvider(ctx, user.ID, id.Provider, id.ExternalID)
		if errors.Is(err, database.ErrConflict) {
			return nil, apperrors.ErrExternalAuthFailed.WithMessage("external identity already linked")
		}
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		user = updated
	}
	return s.establish(ctx, user, client)
}

func (s *AuthService) socialSignUp(ctx context.Context, email string, id *identity.Identity, client ClientInfo) (*Session, error) {
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}
	now := time.Now().UTC()
	user := &models.User{
		ID:         bson.NewObjectID(),
		Name:       name,
		Email:      email,
		Role:       s.roleFor(email),
		IsVerified: id.EmailVerified,
		Accounts:   []models.AccountMethod{id.Provider},
		Avatar:     id.Picture,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	switch id.Provider {
	case models.AccountGoogle:
		user.GoogleID = id.ExternalID
	case models.AccountGithub:
		user.GithubID = id.ExternalID
	}

	sess, err := s.createWithDevice(ctx, user, client)
	if err != nil {
		return nil, err
	}
	if !user.IsVerified {
		s.sendVerification(ctx, user.ID)
	}
	return sess, nil
}

// Authenticate resolves an access token to the caller. An expired token
// yields TokenExpiredOrInvalid wrapping utils.ErrTokenExpired.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.codec.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, apperrors.ErrTokenExpiredOrInvalid.WithCause(err)
	}
	userID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return nil, apperrors.ErrTokenExpiredOrInvalid
	}
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.ErrUnauthorized.WithMessage("user no longer exists")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if user.IsBlocked {
		return nil, apperrors.ErrAccountBlocked
	}
	return &Principal{
		UserID:     user.ID,
		Email:      user.Email,
		Role:       user.Role,
		IsVerified: user.IsVerified,
		DeviceID:   claims.DeviceID,
	}, nil
}

// Logout signs out the caller's device. Its refresh token stops working
// immediately; other devices are unaffected.
func (s *AuthService) Logout(ctx context.Context, p *Principal) (err error) {
	defer s.observe("logout", &err)

	if p == nil {
		return apperrors.ErrUnauthorized
	}
	if p.DeviceID == "" {
		return nil
	}
	if err := s.users.ClearDeviceToken(ctx, p.UserID, p.DeviceID); err != nil {
		return apperrors.Internal(err)
	}
	s.metrics.DeviceEvent("revoked")
	return nil
}

// CompletePasswordReset redeems a reset token and signs the caller in. The
// token is checked first; the device is checked before the token is spent
// so a mismatch leaves it usable. Every other device is signed out.
func (s *AuthService) CompletePasswordReset(ctx context.Context, userID, token, newPassword string, client ClientInfo) (sess *Session, err error) {
	defer s.observe("complete_password_reset", &err)

	if err := validatePassword(newPassword); err != nil {
		return nil, err
	}
	id, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperrors.ErrTokenExpiredOrInvalid
	}
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.ErrTokenExpiredOrInvalid
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	// nothing about the account is reported until the token checks out
	if !s.verification.ResetTokenLive(user, token) {
		return nil, apperrors.ErrTokenExpiredOrInvalid
	}
	if user.IsBlocked {
		return nil, apperrors.ErrAccountBlocked
	}
	signals := devices.ParseSignals(client.UserAgent, client.IP)
	d, err := s.checkDevice(user, client, signals)
	if err != nil {
		return nil, err
	}

	user, err = s.verification.RedeemPasswordReset(ctx, id, token, newPassword)
	if err != nil {
		return nil, err
	}

	keep := ""
	if d != nil {
		keep = d.DeviceID
	}
	if err := s.users.ClearDeviceTokens(ctx, user.ID, keep); err != nil {
		return nil, apperrors.Internal(err)
	}
	return s.establish(ctx, user, client)
}

// ChangePassword replaces the password after checking the current one and
// signs out every device except the caller's.
func (s *AuthService) ChangePassword(ctx context.Context, p *Principal, current, next string) (user *models.User, err error) {
	defer s.observe("change_password", &err)

	user, err = s.Me(ctx, p)
	if err != nil {
		return nil, err
	}
	if !user.HasPassword() {
		return nil, apperrors.InvalidInput("account has no password; set one first")
	}
	if err := utils.CheckPassword(user.PasswordHash, current); err != nil {
		return nil, apperrors.ErrInvalidCredentials.WithMessage("current password is incorrect")
	}
	if err := validatePassword(next); err != nil {
		return nil, err
	}
	if current == next {
		return nil, apperrors.InvalidInput("new password must differ from the current one")
	}

	hash, err := utils.HashPassword(next)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	user, err = s.users.SetPassword(ctx, user.ID, hash)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.users.ClearDeviceTokens(ctx, user.ID, p.DeviceID); err != nil {
		return nil, apperrors.Internal(err)
	}
	return user, nil
}

// SetPassword gives a social-only account a password, enabling email login.
func (s *AuthService) SetPassword(ctx context.Context, p *Principal, password string) (user *models.User, err error) {
	defer s.observe("set_password", &err)

	user, err = s.Me(ctx, p)
	if err != nil {
		return nil, err
	}
	if user.HasPassword() {
		return nil, apperrors.InvalidInput("password already set; use change password")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	user, err = s.users.SetPassword(ctx, user.ID, hash)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return user, nil
}

func (s *AuthService) Me(ctx context.Context, p *Principal) (*models.User, error) {
	if p == nil {
		return nil, apperrors.ErrUnauthorized
	}
	user, err := s.users.FindByID(ctx, p.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("user not found")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return user, nil
}

type ProfileUpdate struct {
	Name   *string
	Avatar *string
}

func (s *AuthService) UpdateProfile(ctx context.Context, p *Principal, upd ProfileUpdate) (*models.User, error) {
	if p == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, apperrors.InvalidInput("name must not be empty")
		}
		upd.Name = &name
	}
	if upd.Name == nil && upd.Avatar == nil {
		return nil, apperrors.InvalidInput("nothing to update")
	}
	user, err := s.users.UpdateProfile(ctx, p.UserID, upd.Name, upd.Avatar)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("user not found")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return user, nil
}

// SetBlocked blocks or unblocks an account. Blocking signs out all of the
// account's devices.
func (s *AuthService) SetBlocked(ctx context.Context, actor *Principal, targetID string, blocked bool) (user *models.User, err error) {
	defer s.observe("set_blocked", &err)

	if !actor.IsAdmin() {
		return nil, apperrors.ErrForbidden
	}
	id, err := bson.ObjectIDFromHex(targetID)
	if err != nil {
		return nil, apperrors.InvalidInput("invalid user id")
	}
	if id == actor.UserID {
		return nil, apperrors.InvalidInput("admins cannot block themselves")
	}
	user, err = s.users.SetBlocked(ctx, id, blocked)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("user not found")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if blocked {
		if err := s.users.ClearDeviceTokens(ctx, id, ""); err != nil {
			return nil, apperrors.Internal(err)
		}
	}
	s.log.Info("account block state changed", "user_id", id.Hex(), "blocked", blocked, "by", actor.UserID.Hex())
	return user, nil
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// UserPage is one page of an admin user listing.
type UserPage struct {
	Users []models.User `json:"users"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// ListUsers pages through all accounts, newest first. Page numbers start at 1.
func (s *AuthService) ListUsers(ctx context.Context, actor *Principal, page, limit int) (*UserPage, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.ErrForbidden
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	users, total, err := s.users.ListUsers(ctx, int64(page-1)*int64(limit), int64(limit))
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &UserPage{Users: users, Total: total, Page: page, Limit: limit}, nil
}

// GetUser looks up any account by id for an admin.
func (s *AuthService) GetUser(ctx context.Context, actor *Principal, targetID string) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.ErrForbidden
	}
	id, err := bson.ObjectIDFromHex(targetID)
	if err != nil {
		return nil, apperrors.ErrNotFound.WithMessage("user not found")
	}
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("user not found")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return user, nil
}
