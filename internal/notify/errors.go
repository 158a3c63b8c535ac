package notify

import "errors"

var (
	// ErrPersistence means the notification record or the device list could
	// not be read or written. It is the only error Dispatch surfaces.
	ErrPersistence = errors.New("persistence failure")

	// ErrChannelDelivery means a push provider rejected or failed one device.
	ErrChannelDelivery = errors.New("channel delivery failure")

	// ErrMalformedToken means a mobile device holds a token the gateway
	// would never accept.
	ErrMalformedToken = errors.New("malformed push token")
)
