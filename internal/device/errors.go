package device

import "errors"

var (
	ErrDeviceNotFound  = errors.New("device registration not found")
	ErrInvalidPlatform = errors.New("unknown push platform")
	ErrNotOwner        = errors.New("device token belongs to another responder")
)
