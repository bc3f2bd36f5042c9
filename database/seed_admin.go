package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/princinho/vrixsa/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SeedAdmin inserts a verified admin with email sign-in if no user owns
// email yet. An existing account is left untouched.
func (s *UserStore) SeedAdmin(ctx context.Context, email, passwordHash string) (bool, error) {
	now := s.now().UTC()

	// Only insert if it doesn't exist
	filter := bson.M{"email": email}
	update := bson.M{
		"$setOnInsert": bson.M{
			"name":         "Administrator",
			"email":        email,
			"passwordHash": passwordHash,
			"role":         models.RoleAdmin,
			"isVerified":   true,
			"isBlocked":    false,
			"accounts":     []models.AccountMethod{models.AccountEmail},
			"devices":      []models.Device{},
			"createdAt":    now,
			"updatedAt":    now,
		},
	}

	res, err := s.col.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("seed admin upsert failed: %w", err)
	}

	seeded := res.UpsertedCount == 1
	slog.Info("admin account checked", "email", email, "seeded", seeded)
	return seeded, nil
}
