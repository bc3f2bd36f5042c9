package models

import "time"

type DeviceClass string

const (
	DeviceMobile  DeviceClass = "Mobile"
	DeviceTablet  DeviceClass = "Tablet"
	DeviceDesktop DeviceClass = "Desktop"
	DeviceUnknown DeviceClass = "Unknown"
)

// Device is a trusted client of a user. RefreshTokenHash holds the sha256
// of the only refresh token currently valid for it; empty means signed out.
type Device struct {
	DeviceID         string      `bson:"deviceId" json:"deviceId"`
	DeviceType       DeviceClass `bson:"deviceType" json:"deviceType"`
	IPAddress        string      `bson:"ipAddress" json:"ipAddress"`
	Browser          string      `bson:"browser" json:"browser"`
	Version          string      `bson:"version" json:"version"`
	OS               string      `bson:"os" json:"os"`
	Platform         string      `bson:"platform" json:"platform"`
	LastLogin        time.Time   `bson:"lastLogin" json:"lastLogin"`
	RefreshTokenHash string      `bson:"refreshTokenHash,omitempty" json:"-"`
	CreatedAt        time.Time   `bson:"createdAt" json:"createdAt"`
}

// DeviceTouch is what a successful login or refresh writes back to a device.
type DeviceTouch struct {
	RefreshTokenHash string
	IPAddress        string
	Browser          string
	Version          string
	OS               string
	Platform         string
	DeviceType       DeviceClass
	LastLogin        time.Time
}
