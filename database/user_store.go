package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/princinho/vrixsa/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const UsersCollection = "users"

// UserStore persists users in MongoDB. Every mutation is a single
// conditional update on one document so concurrent requests cannot lose
// each other's writes.
type UserStore struct {
	col *mongo.Collection
	now func() time.Time
}

func NewUserStore(col *mongo.Collection) *UserStore {
	return &UserStore{col: col, now: time.Now}
}

func (s *UserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "googleId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "githubId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "devices.deviceId", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = bson.NewObjectID()
	}
	if user.Devices == nil {
		user.Devices = []models.Device{}
	}
	if _, err := s.col.InsertOne(ctx, user); err != nil {
		if IsDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *UserStore) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	if err := s.col.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (s *UserStore) FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

// ListUsers returns one page of users, newest first, and the total count.
func (s *UserStore) ListUsers(ctx context.Context, skip, limit int64) ([]models.User, int64, error) {
	total, err := s.col.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)
	cursor, err := s.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find users: %w", err)
	}
	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, 0, fmt.Errorf("decode users: %w", err)
	}
	return users, total, nil
}

// findOneAndUpdate applies update to the document matching filter and
// returns the updated user, or ErrNotFound when nothing matched.
func (s *UserStore) findOneAndUpdate(ctx context.Context, filter, update bson.M) (*models.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user models.User
	if err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		if IsDuplicateKey(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return &user, nil
}

func (s *UserStore) updateOne(ctx context.Context, filter, update bson.M, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error) {
	res, err := s.col.UpdateOne(ctx, filter, update, opts...)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return res, nil
}

func (s *UserStore) PushDevice(ctx context.Context, userID bson.ObjectID, device models.Device) error {
	res, err := s.updateOne(ctx,
		bson.M{"_id": userID, "devices.deviceId": bson.M{"$ne": device.DeviceID}},
		bson.M{
			"$push": bson.M{"devices": device},
			"$set":  bson.M{"updatedAt": s.now().UTC()},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func touchSet(t models.DeviceTouch, now time.Time) bson.M {
	return bson.M{
		"devices.$.refreshTokenHash": t.RefreshTokenHash,
		"devices.$.ipAddress":        t.IPAddress,
		"devices.$.browser":          t.Browser,
		"devices.$.version":          t.Version,
		"devices.$.os":               t.OS,
		"devices.$.platform":         t.Platform,
		"devices.$.deviceType":       t.DeviceType,
		"devices.$.lastLogin":        t.LastLogin,
		"updatedAt":                  now,
	}
}

// TouchDevice overwrites the device's token hash and attributes.
func (s *UserStore) TouchDevice(ctx context.Context, userID bson.ObjectID, deviceID string, touch models.DeviceTouch) error {
	res, err := s.updateOne(ctx,
		bson.M{"_id": userID, "devices.deviceId": deviceID},
		bson.M{"$set": touchSet(touch, s.now().UTC())})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateDeviceToken is TouchDevice guarded by the hash the caller last saw.
// ErrConflict means another request rotated the token first.
func (s *UserStore) RotateDeviceToken(ctx context.Context, userID bson.ObjectID, deviceID, expectedHash string, touch models.DeviceTouch) error {
	res, err := s.updateOne(ctx,
		bson.M{
			"_id": userID,
			"devices": bson.M{"$elemMatch": bson.M{
				"deviceId":         deviceID,
				"refreshTokenHash": expectedHash,
			}},
		},
		bson.M{"$set": touchSet(touch, s.now().UTC())})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (s *UserStore) ClearDeviceToken(ctx context.Context, userID bson.ObjectID, deviceID string) error {
	_, err := s.updateOne(ctx,
		bson.M{"_id": userID, "devices.deviceId": deviceID},
		bson.M{
			"$unset": bson.M{"devices.$.refreshTokenHash": ""},
			"$set":   bson.M{"updatedAt": s.now().UTC()},
		})
	return err
}

// ClearDeviceTokens signs out every device except keepDeviceID. An empty
// keepDeviceID signs out all of them.
func (s *UserStore) ClearDeviceTokens(ctx context.Context, userID bson.ObjectID, keepDeviceID string) error {
	opts := options.UpdateOne().SetArrayFilters([]any{
		bson.M{"d.deviceId": bson.M{"$ne": keepDeviceID}},
	})
	_, err := s.updateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$unset": bson.M{"devices.$[d].refreshTokenHash": ""},
			"$set":   bson.M{"updatedAt": s.now().UTC()},
		}, opts)
	return err
}

func (s *UserStore) SetOneTimePassword(ctx context.Context, userID bson.ObjectID, hash string, expire time.Time) error {
	res, err := s.updateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{
		"oneTimePassword": hash,
		"oneTimeExpire":   expire.UTC(),
		"updatedAt":       s.now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *UserStore) ClearOneTimePassword(ctx context.Context, userID bson.ObjectID) error {
	_, err := s.updateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$unset": bson.M{"oneTimePassword": "", "oneTimeExpire": ""},
	})
	return err
}

// ConsumeOneTimePassword marks the user verified if hash is the stored OTP
// and it has not expired at now. A used or expired OTP yields ErrNotFound.
func (s *UserStore) ConsumeOneTimePassword(ctx context.Context, userID bson.ObjectID, hash string, now time.Time) (*models.User, error) {
	return s.findOneAndUpdate(ctx,
		bson.M{
			"_id":             userID,
			"oneTimePassword": hash,
			"oneTimeExpire":   bson.M{"$gt": now.UTC()},
		},
		bson.M{
			"$set":   bson.M{"isVerified": true, "updatedAt": now.UTC()},
			"$unset": bson.M{"oneTimePassword": "", "oneTimeExpire": ""},
		})
}

func (s *UserStore) SetResetToken(ctx context.Context, userID bson.ObjectID, hash string, expire time.Time) error {
	res, err := s.updateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{
		"resetPasswordToken":  hash,
		"resetPasswordExpire": expire.UTC(),
		"updatedAt":           s.now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *UserStore) ClearResetToken(ctx context.Context, userID bson.ObjectID) error {
	_, err := s.updateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$unset": bson.M{"resetPasswordToken": "", "resetPasswordExpire": ""},
	})
	return err
}

// ConsumeResetToken installs passwordHash if hash is the stored reset token
// and it has not expired at now.
func (s *UserStore) ConsumeResetToken(ctx context.Context, userID bson.ObjectID, hash string, now time.Time, passwordHash string) (*models.User, error) {
	return s.findOneAndUpdate(ctx,
		bson.M{
			"_id":                 userID,
			"resetPasswordToken":  hash,
			"resetPasswordExpire": bson.M{"$gt": now.UTC()},
		},
		bson.M{
			"$set":      bson.M{"passwordHash": passwordHash, "updatedAt": now.UTC()},
			"$unset":    bson.M{"resetPasswordToken": "", "resetPasswordExpire": ""},
			"$addToSet": bson.M{"accounts": models.AccountEmail},
		})
}

// SetPassword stores a new password hash and enables email sign-in.
func (s *UserStore) SetPassword(ctx context.Context, userID bson.ObjectID, passwordHash string) (*models.User, error) {
	return s.findOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$set":      bson.M{"passwordHash": passwordHash, "updatedAt": s.now().UTC()},
			"$addToSet": bson.M{"accounts": models.AccountEmail},
		})
}

func providerField(method models.AccountMethod) (string, error) {
	switch method {
	case models.AccountGoogle:
		return "googleId", nil
	case models.AccountGithub:
		return "githubId", nil
	}
	return "", fmt.Errorf("unsupported provider %q", method)
}

// LinkProvider records externalID for method. Linking the same id again is
// a no-op; a different id already on the account yields ErrConflict.
func (s *UserStore) LinkProvider(ctx context.Context, userID bson.ObjectID, method models.AccountMethod, externalID string) (*models.User, error) {
	field, err := providerField(method)
	if err != nil {
		return nil, err
	}
	user, err := s.findOneAndUpdate(ctx,
		bson.M{
			"_id": userID,
			"$or": bson.A{
				bson.M{field: bson.M{"$exists": false}},
				bson.M{field: ""},
				bson.M{field: externalID},
			},
		},
		bson.M{
			"$set":      bson.M{field: externalID, "updatedAt": s.now().UTC()},
			"$addToSet": bson.M{"accounts": method},
		})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey) {
		return nil, ErrConflict
	}
	return user, err
}

func (s *UserStore) SetBlocked(ctx context.Context, userID bson.ObjectID, blocked bool) (*models.User, error) {
	return s.findOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"isBlocked": blocked, "updatedAt": s.now().UTC()}})
}

// UpdateProfile sets the non-nil fields only.
func (s *UserStore) UpdateProfile(ctx context.Context, userID bson.ObjectID, name, avatar *string) (*models.User, error) {
	set := bson.M{"updatedAt": s.now().UTC()}
	if name != nil {
		set["name"] = *name
	}
	if avatar != nil {
		set["avatar"] = *avatar
	}
	return s.findOneAndUpdate(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
}
