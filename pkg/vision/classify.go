package vision

import (
	"errors"
	"net"
	"net/http"
	"strings"

	providertypes "archcritic/pkg/provider/types"
)

type errorClass int

const (
	classPermanent errorClass = iota
	classTransient
	classPermission
	classRestricted
)

func (c errorClass) String() string {
	switch c {
	case classTransient:
		return "transient"
	case classPermission:
		return "permission"
	case classRestricted:
		return "restricted"
	default:
		return "permanent"
	}
}

const restrictionCode = "unsupported_country_region_territory"

var transientMarkers = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"timeout",
	"unavailable",
	"connection",
	"temporarily",
	"retry",
}

var restrictionMarkers = []string{
	restrictionCode,
	"not supported",
}

// classify decides how the retry loop treats err. Structured provider errors are read first;
// the message markers only decide for errors that carry no status code.
func classify(err error) errorClass {
	if err == nil {
		return classPermanent
	}

	var requestErr *providertypes.RequestError
	if errors.As(err, &requestErr) {
		if strings.EqualFold(requestErr.Code, restrictionCode) {
			return classRestricted
		}
		if requestErr.StatusCode != 0 {
			return classifyStatus(requestErr.StatusCode, err.Error())
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return classTransient
	}

	message := strings.ToLower(err.Error())
	if strings.Contains(message, restrictionCode) {
		return classRestricted
	}
	if containsAny(message, transientMarkers) {
		return classTransient
	}

	return classPermanent
}

func classifyStatus(status int, message string) errorClass {
	switch {
	case status == http.StatusForbidden:
		if containsAny(strings.ToLower(message), restrictionMarkers) {
			return classRestricted
		}
		return classPermission
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status >= http.StatusInternalServerError:
		return classTransient
	default:
		return classPermanent
	}
}

func containsAny(message string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(message, marker) {
			return true
		}
	}

	return false
}
