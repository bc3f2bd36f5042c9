// Package devices decides whether a client presenting a device id is the
// same client that was registered under it.
package devices

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mileusna/useragent"
	"github.com/princinho/vrixsa/models"
)

// Signals is what the server can observe about a client on one request.
type Signals struct {
	Class    models.DeviceClass
	Browser  string
	Version  string
	OS       string
	Platform string
	IP       string
}

// Classify picks the first matching class in mobile, tablet, desktop order.
func Classify(mobile, tablet, desktop bool) models.DeviceClass {
	switch {
	case mobile:
		return models.DeviceMobile
	case tablet:
		return models.DeviceTablet
	case desktop:
		return models.DeviceDesktop
	default:
		return models.DeviceUnknown
	}
}

func ParseSignals(userAgent, ip string) Signals {
	ua := useragent.Parse(userAgent)
	platform := ua.Device
	if platform == "" {
		platform = ua.OS
	}
	return Signals{
		Class:    Classify(ua.Mobile, ua.Tablet, ua.Desktop),
		Browser:  ua.Name,
		Version:  ua.Version,
		OS:       ua.OS,
		Platform: platform,
		IP:       ip,
	}
}

type Policy string

const (
	// PolicyLenient accepts a device when any one of class, browser or OS
	// still matches. Browser upgrades and OS updates keep the device.
	PolicyLenient Policy = "lenient"
	// PolicyStrict requires class, browser and OS to all match.
	PolicyStrict Policy = "strict"
)

func ParsePolicy(v string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(v))) {
	case "", PolicyLenient:
		return PolicyLenient, nil
	case PolicyStrict:
		return PolicyStrict, nil
	}
	return "", fmt.Errorf("unknown device match policy %q", v)
}

type Registry struct {
	policy Policy
	now    func() time.Time
}

func NewRegistry(policy Policy) *Registry {
	if policy == "" {
		policy = PolicyLenient
	}
	return &Registry{policy: policy, now: time.Now}
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	cp := *r
	cp.now = now
	return &cp
}

func (r *Registry) Policy() Policy { return r.policy }

// Match returns the user's device with the given id, or nil.
func (r *Registry) Match(user *models.User, deviceID string) *models.Device {
	return user.Device(deviceID)
}

// known reports whether a and b are the same recognised value. Empty and
// Unknown values never match, not even each other.
func known(a, b string) bool {
	if a == "" || b == "" || strings.EqualFold(a, string(models.DeviceUnknown)) {
		return false
	}
	return strings.EqualFold(a, b)
}

// IsConsistent compares stored device attributes against the current
// request. Comparisons ignore case.
func (r *Registry) IsConsistent(d *models.Device, s Signals) bool {
	class := known(string(d.DeviceType), string(s.Class))
	browser := known(d.Browser, s.Browser)
	os := known(d.OS, s.OS)
	if r.policy == PolicyStrict {
		return class && browser && os
	}
	return class || browser || os
}

// NewDevice builds an unsaved device with a fresh server-issued id.
func (r *Registry) NewDevice(s Signals) models.Device {
	now := r.now().UTC()
	return models.Device{
		DeviceID:   uuid.NewString(),
		DeviceType: s.Class,
		IPAddress:  s.IP,
		Browser:    s.Browser,
		Version:    s.Version,
		OS:         s.OS,
		Platform:   s.Platform,
		LastLogin:  now,
		CreatedAt:  now,
	}
}

// Touch is the update applied to a device after a login or refresh.
func (r *Registry) Touch(s Signals, refreshHash string) models.DeviceTouch {
	return models.DeviceTouch{
		RefreshTokenHash: refreshHash,
		IPAddress:        s.IP,
		Browser:          s.Browser,
		Version:          s.Version,
		OS:               s.OS,
		Platform:         s.Platform,
		DeviceType:       s.Class,
		LastLogin:        r.now().UTC(),
	}
}
