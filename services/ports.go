package services

import (
	"context"
	"time"

	"github.com/princinho/vrixsa/identity"
	"github.com/princinho/vrixsa/mailer"
	"github.com/princinho/vrixsa/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// UserStore is the persistence the services need. Implementations must make
// each method a single atomic step on one user.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, skip, limit int64) ([]models.User, int64, error)

	PushDevice(ctx context.Context, userID bson.ObjectID, device models.Device) error
	TouchDevice(ctx context.Context, userID bson.ObjectID, deviceID string, touch models.DeviceTouch) error
	RotateDeviceToken(ctx context.Context, userID bson.ObjectID, deviceID, expectedHash string, touch models.DeviceTouch) error
	ClearDeviceToken(ctx context.Context, userID bson.ObjectID, deviceID string) error
	ClearDeviceTokens(ctx context.Context, userID bson.ObjectID, keepDeviceID string) error

	SetOneTimePassword(ctx context.Context, userID bson.ObjectID, hash string, expire time.Time) error
	ClearOneTimePassword(ctx context.Context, userID bson.ObjectID) error
	ConsumeOneTimePassword(ctx context.Context, userID bson.ObjectID, hash string, now time.Time) (*models.User, error)

	SetResetToken(ctx context.Context, userID bson.ObjectID, hash string, expire time.Time) error
	ClearResetToken(ctx context.Context, userID bson.ObjectID) error
	ConsumeResetToken(ctx context.Context, userID bson.ObjectID, hash string, now time.Time, passwordHash string) (*models.User, error)

	SetPassword(ctx context.Context, userID bson.ObjectID, passwordHash string) (*models.User, error)
	LinkProvider(ctx context.Context, userID bson.ObjectID, method models.AccountMethod, externalID string) (*models.User, error)
	SetBlocked(ctx context.Context, userID bson.ObjectID, blocked bool) (*models.User, error)
	UpdateProfile(ctx context.Context, userID bson.ObjectID, name, avatar *string) (*models.User, error)
}

// Mailer queues an email for asynchronous delivery.
type Mailer interface {
	Enqueue(ctx context.Context, msg mailer.Message) error
}

// IdentityVerifier checks a token from an external sign-in provider.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*identity.Identity, error)
}

// ClientInfo is what the transport knows about the caller.
type ClientInfo struct {
	UserAgent string
	IP        string
	DeviceID  string
}

// Session is the outcome of a successful sign-in or refresh.
type Session struct {
	User         *models.User
	DeviceID     string
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	NewDevice    bool
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID     bson.ObjectID
	Email      string
	Role       models.Role
	IsVerified bool
	DeviceID   string
}

func (p *Principal) IsAdmin() bool { return p != nil && p.Role == models.RoleAdmin }
