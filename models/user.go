package models

import (
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// AccountMethod is a way a user can sign in.
type AccountMethod string

const (
	AccountEmail  AccountMethod = "EMAIL"
	AccountGoogle AccountMethod = "GOOGLE"
	AccountGithub AccountMethod = "GITHUB"
)

type User struct {
	ID           bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	Name         string          `bson:"name" json:"name"`
	Email        string          `bson:"email" json:"email"`
	PasswordHash string          `bson:"passwordHash,omitempty" json:"-"` // never expose
	Role         Role            `bson:"role" json:"role"`
	IsVerified   bool            `bson:"isVerified" json:"isVerified"`
	IsBlocked    bool            `bson:"isBlocked" json:"isBlocked"`
	Accounts     []AccountMethod `bson:"accounts" json:"accounts"`
	GoogleID     string          `bson:"googleId,omitempty" json:"-"`
	GithubID     string          `bson:"githubId,omitempty" json:"-"`
	Avatar       string          `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Devices      []Device        `bson:"devices" json:"-"`

	OneTimePassword     string     `bson:"oneTimePassword,omitempty" json:"-"`
	OneTimeExpire       *time.Time `bson:"oneTimeExpire,omitempty" json:"-"`
	ResetPasswordToken  string     `bson:"resetPasswordToken,omitempty" json:"-"`
	ResetPasswordExpire *time.Time `bson:"resetPasswordExpire,omitempty" json:"-"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (u *User) HasAccount(m AccountMethod) bool {
	return slices.Contains(u.Accounts, m)
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Device returns the embedded device with the given id, or nil.
func (u *User) Device(deviceID string) *Device {
	if deviceID == "" {
		return nil
	}
	for i := range u.Devices {
		if u.Devices[i].DeviceID == deviceID {
			return &u.Devices[i]
		}
	}
	return nil
}

// ExternalID returns the provider id linked for the given method.
func (u *User) ExternalID(m AccountMethod) string {
	switch m {
	case AccountGoogle:
		return u.GoogleID
	case AccountGithub:
		return u.GithubID
	}
	return ""
}
