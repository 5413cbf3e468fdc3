package push

import (
	"strings"

	"github.com/sideshow/apns2"
)

// FatalReason is why the gateway permanently rejected a notification.
type FatalReason int

const (
	FatalUnknown FatalReason = iota
	FatalBadCollapseID
	FatalBadDeviceToken
	FatalBadExpirationDate
	FatalBadMessageID
	FatalBadPriority
	FatalBadTopic
	FatalDeviceTokenNotForTopic
	FatalDuplicateHeaders
	FatalIdleTimeout
	FatalMissingDeviceToken
	FatalMissingTopic
	FatalPayloadEmpty
	FatalTopicDisallowed
	FatalBadCertificate
	FatalBadCertificateEnvironment
	FatalExpiredProviderToken
	FatalForbidden
	FatalInvalidProviderToken
	FatalMissingProviderToken
	FatalBadPath
	FatalMethodNotAllowed
	FatalUnregistered
	FatalPayloadTooLarge
)

// TemporaryReason is why the gateway could not accept a notification right
// now. Sending again later may succeed.
type TemporaryReason int

const (
	TemporaryUnknown TemporaryReason = iota
	TemporaryTooManyProviderTokenUpdates
	TemporaryTooManyRequests
	TemporaryInternalServerError
	TemporaryServiceUnavailable
	TemporaryShutdown
)

var fatalReasonNames = map[FatalReason]string{
	FatalBadCollapseID:             apns2.ReasonBadCollapseID,
	FatalBadDeviceToken:            apns2.ReasonBadDeviceToken,
	FatalBadExpirationDate:         apns2.ReasonBadExpirationDate,
	FatalBadMessageID:              apns2.ReasonBadMessageID,
	FatalBadPriority:               apns2.ReasonBadPriority,
	FatalBadTopic:                  apns2.ReasonBadTopic,
	FatalDeviceTokenNotForTopic:    apns2.ReasonDeviceTokenNotForTopic,
	FatalDuplicateHeaders:          apns2.ReasonDuplicateHeaders,
	FatalIdleTimeout:               apns2.ReasonIdleTimeout,
	FatalMissingDeviceToken:        apns2.ReasonMissingDeviceToken,
	FatalMissingTopic:              apns2.ReasonMissingTopic,
	FatalPayloadEmpty:              apns2.ReasonPayloadEmpty,
	FatalTopicDisallowed:           apns2.ReasonTopicDisallowed,
	FatalBadCertificate:            apns2.ReasonBadCertificate,
	FatalBadCertificateEnvironment: apns2.ReasonBadCertificateEnvironment,
	FatalExpiredProviderToken:      apns2.ReasonExpiredProviderToken,
	FatalForbidden:                 apns2.ReasonForbidden,
	FatalInvalidProviderToken:      apns2.ReasonInvalidProviderToken,
	FatalMissingProviderToken:      apns2.ReasonMissingProviderToken,
	FatalBadPath:                   apns2.ReasonBadPath,
	FatalMethodNotAllowed:          apns2.ReasonMethodNotAllowed,
	FatalUnregistered:              apns2.ReasonUnregistered,
	FatalPayloadTooLarge:           apns2.ReasonPayloadTooLarge,
}

var temporaryReasonNames = map[TemporaryReason]string{
	TemporaryTooManyProviderTokenUpdates: apns2.ReasonTooManyProviderTokenUpdates,
	TemporaryTooManyRequests:             apns2.ReasonTooManyRequests,
	TemporaryInternalServerError:         apns2.ReasonInternalServerError,
	TemporaryServiceUnavailable:          apns2.ReasonServiceUnavailable,
	TemporaryShutdown:                    apns2.ReasonShutdown,
}

var (
	fatalByName     = foldNames(fatalReasonNames)
	temporaryByName = foldNames(temporaryReasonNames)
)

func foldNames[R comparable](names map[R]string) map[string]R {
	folded := make(map[string]R, len(names))
	for r, name := range names {
		folded[strings.ToLower(name)] = r
	}
	return folded
}

// ParseFatalReason matches a gateway reason string, ignoring case.
func ParseFatalReason(s string) (FatalReason, bool) {
	r, ok := fatalByName[strings.ToLower(s)]
	return r, ok
}

// ParseTemporaryReason matches a gateway reason string, ignoring case.
func ParseTemporaryReason(s string) (TemporaryReason, bool) {
	r, ok := temporaryByName[strings.ToLower(s)]
	return r, ok
}

func (r FatalReason) String() string {
	if name, ok := fatalReasonNames[r]; ok {
		return name
	}
	return "Unknown"
}

// InvalidatesToken reports whether the device token itself is dead and
// should not be used again.
func (r FatalReason) InvalidatesToken() bool {
	switch r {
	case FatalBadDeviceToken, FatalUnregistered, FatalDeviceTokenNotForTopic:
		return true
	}
	return false
}

func (r TemporaryReason) String() string {
	if name, ok := temporaryReasonNames[r]; ok {
		return name
	}
	return "Unknown"
}
