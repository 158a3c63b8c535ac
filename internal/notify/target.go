package notify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// Channel names, also used as metric labels.
const (
	ChannelWeb    = "web"
	ChannelMobile = "mobile"
)

// Target is a device resolved to exactly one push channel.
type Target interface {
	Channel() string
}

// WebTarget is a browser push subscription, still in its stored JSON form.
type WebTarget struct {
	Subscription string
}

// Channel implements Target.
func (WebTarget) Channel() string { return ChannelWeb }

// MobileTarget is a validated Expo push token.
type MobileTarget struct {
	Token string
}

// Channel implements Target.
func (MobileTarget) Channel() string { return ChannelMobile }

// errNoSubscription marks devices that registered without a payload. They
// are skipped silently.
var errNoSubscription = errors.New("no push subscription")

// Classify resolves a stored device into its push target.
func Classify(d types.Device) (Target, error) {
	if d.Subscription == "" {
		return nil, errNoSubscription
	}

	switch {
	case d.Class == types.DeviceWeb:
		return WebTarget{Subscription: d.Subscription}, nil
	case d.Class.IsMobile():
		// Tokens are stored JSON-encoded, so strip the quotes first.
		token := strings.ReplaceAll(d.Subscription, `"`, "")
		if !IsExpoPushToken(token) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedToken, token)
		}
		return MobileTarget{Token: token}, nil
	default:
		return nil, fmt.Errorf("unsupported device type %q", d.Class)
	}
}

// bareExpoToken matches the 8-4-4-4-12 form. Any alphanumerics are
// accepted, not just hex.
var bareExpoToken = regexp.MustCompile(`(?i)^[a-z\d]{8}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{4}-[a-z\d]{12}$`)

// IsExpoPushToken reports whether token has a shape the Expo gateway
// accepts: ExponentPushToken[...], ExpoPushToken[...] or a bare
// UUID-shaped id.
func IsExpoPushToken(token string) bool {
	if strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[") {
		return strings.HasSuffix(token, "]")
	}
	return bareExpoToken.MatchString(token)
}
