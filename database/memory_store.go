package database

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/princinho/vrixsa/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryUserStore keeps users in process memory with the same conditional
// update rules as UserStore. It backs tests and local runs without MongoDB.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[bson.ObjectID]*models.User
	now   func() time.Time
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[bson.ObjectID]*models.User), now: time.Now}
}

func cloneUser(u *models.User) *models.User {
	cp := *u
	cp.Accounts = slices.Clone(u.Accounts)
	cp.Devices = slices.Clone(u.Devices)
	if u.OneTimeExpire != nil {
		t := *u.OneTimeExpire
		cp.OneTimeExpire = &t
	}
	if u.ResetPasswordExpire != nil {
		t := *u.ResetPasswordExpire
		cp.ResetPasswordExpire = &t
	}
	return &cp
}

func addAccount(u *models.User, m models.AccountMethod) {
	if !slices.Contains(u.Accounts, m) {
		u.Accounts = append(u.Accounts, m)
	}
}

func (s *MemoryUserStore) get(id bson.ObjectID) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *MemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return ErrDuplicateKey
		}
		if user.GoogleID != "" && u.GoogleID == user.GoogleID {
			return ErrDuplicateKey
		}
		if user.GithubID != "" && u.GithubID == user.GithubID {
			return ErrDuplicateKey
		}
	}
	if user.ID.IsZero() {
		user.ID = bson.NewObjectID()
	}
	if user.Devices == nil {
		user.Devices = []models.Device{}
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id bson.ObjectID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return cloneUser(u), nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) PushDevice(_ context.Context, userID bson.ObjectID, device models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return ErrConflict
	}
	if u.Device(device.DeviceID) != nil {
		return ErrConflict
	}
	u.Devices = append(u.Devices, device)
	u.UpdatedAt = s.now().UTC()
	return nil
}

func applyTouch(d *models.Device, t models.DeviceTouch) {
	d.RefreshTokenHash = t.RefreshTokenHash
	d.IPAddress = t.IPAddress
	d.Browser = t.Browser
	d.Version = t.Version
	d.OS = t.OS
	d.Platform = t.Platform
	d.DeviceType = t.DeviceType
	d.LastLogin = t.LastLogin
}

func (s *MemoryUserStore) TouchDevice(_ context.Context, userID bson.ObjectID, deviceID string, touch models.DeviceTouch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return err
	}
	d := u.Device(deviceID)
	if d == nil {
		return ErrNotFound
	}
	applyTouch(d, touch)
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryUserStore) RotateDeviceToken(_ context.Context, userID bson.ObjectID, deviceID, expectedHash string, touch models.DeviceTouch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return ErrConflict
	}
	d := u.Device(deviceID)
	if d == nil || d.RefreshTokenHash != expectedHash {
		return ErrConflict
	}
	applyTouch(d, touch)
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryUserStore) ClearDeviceToken(_ context.Context, userID bson.ObjectID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return nil
	}
	if d := u.Device(deviceID); d != nil {
		d.RefreshTokenHash = ""
		u.UpdatedAt = s.now().UTC()
	}
	return nil
}

func (s *MemoryUserStore) ClearDeviceTokens(_ context.Context, userID bson.ObjectID, keepDeviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return nil
	}
	for i := range u.Devices {
		if u.Devices[i].DeviceID != keepDeviceID {
			u.Devices[i].RefreshTokenHash = ""
		}
	}
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryUserStore) SetOneTimePassword(_ context.Context, userID bson.ObjectID, hash string, expire time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return err
	}
	exp := expire.UTC()
	u.OneTimePassword = hash
	u.OneTimeExpire = &exp
	return nil
}

func (s *MemoryUserStore) ClearOneTimePassword(_ context.Context, userID bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, err := s.get(userID); err == nil {
		u.OneTimePassword = ""
		u.OneTimeExpire = nil
	}
	return nil
}

func (s *MemoryUserStore) ConsumeOneTimePassword(_ context.Context, userID bson.ObjectID, hash string, now time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	if u.OneTimePassword == "" || u.OneTimePassword != hash || u.OneTimeExpire == nil || !u.OneTimeExpire.After(now) {
		return nil, ErrNotFound
	}
	u.IsVerified = true
	u.OneTimePassword = ""
	u.OneTimeExpire = nil
	u.UpdatedAt = now.UTC()
	return cloneUser(u), nil
}

func (s *MemoryUserStore) SetResetToken(_ context.Context, userID bson.ObjectID, hash string, expire time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return err
	}
	exp := expire.UTC()
	u.ResetPasswordToken = hash
	u.ResetPasswordExpire = &exp
	return nil
}

func (s *MemoryUserStore) ClearResetToken(_ context.Context, userID bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, err := s.get(userID); err == nil {
		u.ResetPasswordToken = ""
		u.ResetPasswordExpire = nil
	}
	return nil
}

func (s *MemoryUserStore) ConsumeResetToken(_ context.Context, userID bson.ObjectID, hash string, now time.Time, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	if u.ResetPasswordToken == "" || u.ResetPasswordToken != hash || u.ResetPasswordExpire == nil || !u.ResetPasswordExpire.After(now) {
		return nil, ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.ResetPasswordToken = ""
	u.ResetPasswordExpire = nil
	addAccount(u, models.AccountEmail)
	u.UpdatedAt = now.UTC()
	return cloneUser(u), nil
}

func (s *MemoryUserStore) SetPassword(_ context.Context, userID bson.ObjectID, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = passwordHash
	addAccount(u, models.AccountEmail)
	u.UpdatedAt = s.now().UTC()
	return cloneUser(u), nil
}

func (s *MemoryUserStore) LinkProvider(_ context.Context, userID bson.ObjectID, method models.AccountMethod, externalID string) (*models.User, error) {
	if _, err := providerField(method); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return nil, ErrConflict
	}
	if cur := u.ExternalID(method); cur != "" && cur != externalID {
		return nil, ErrConflict
	}
	for id, other := range s.users {
		if id != userID && other.ExternalID(method) == externalID {
			return nil, ErrConflict
		}
	}
	switch method {
	case models.AccountGoogle:
		u.GoogleID = externalID
	case models.AccountGithub:
		u.GithubID = externalID
	}
	addAccount(u, method)
	u.UpdatedAt = s.now().UTC()
	return cloneUser(u), nil
}

func (s *MemoryUserStore) SetBlocked(_ context.Context, userID bson.ObjectID, blocked bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	u.IsBlocked = blocked
	u.UpdatedAt = s.now().UTC()
	return cloneUser(u), nil
}

func (s *MemoryUserStore) UpdateProfile(_ context.Context, userID bson.ObjectID, name, avatar *string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.get(userID)
	if err != nil {
		return nil, err
	}
	if name != nil {
		u.Name = *name
	}
	if avatar != nil {
		u.Avatar = *avatar
	}
	u.UpdatedAt = s.now().UTC()
	return cloneUser(u), nil
}

// ListUsers mirrors UserStore.ListUsers.
func (s *MemoryUserStore) ListUsers(_ context.Context, skip, limit int64) ([]models.User, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u)
	}
	slices.SortFunc(all, func(a, b *models.User) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})

	total := int64(len(all))
	page := []models.User{}
	for i := skip; i < total && int64(len(page)) < limit; i++ {
		page = append(page, *cloneUser(all[i]))
	}
	return page, total, nil
}

// SeedAdmin mirrors UserStore.SeedAdmin.
func (s *MemoryUserStore) SeedAdmin(ctx context.Context, email, passwordHash string) (bool, error) {
	now := s.now().UTC()
	err := s.Create(ctx, &models.User{
		Name:         "Administrator",
		Email:        email,
		PasswordHash: passwordHash,
		Role:         models.RoleAdmin,
		IsVerified:   true,
		Accounts:     []models.AccountMethod{models.AccountEmail},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err == ErrDuplicateKey {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}
	return true, nil
}
