package domain

import "time"

// Platform identifies the push delivery platform of a device.
type Platform string

// Supported platforms.
const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// IsValid checks if the platform is supported.
func (p Platform) IsValid() bool {
	return p == PlatformIOS || p == PlatformAndroid || p == PlatformWeb
}

// DeviceRegistration binds a push token to a responder. A responder may
// register many devices; a token belongs to exactly one responder.
type DeviceRegistration struct {
	Responder    string    `json:"responder"`
	Token        string    `json:"token"`
	Platform     Platform  `json:"platform"`
	RegisteredAt time.Time `json:"registered_at"`
}
