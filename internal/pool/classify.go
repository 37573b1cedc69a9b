package pool

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"pool_gateway/internal/oauth"
)

// FailureKind is how a failed upstream call affects its credential
type FailureKind int

const (
	// FailureTransient leaves the credential active
	FailureTransient FailureKind = iota
	// FailureTimeout is a transient failure caused by a bounded wait
	FailureTimeout
	// FailureAuthRejected deactivates the credential and claws back its reward
	FailureAuthRejected
)

func (k FailureKind) String() string {
	switch k {
	case FailureAuthRejected:
		return "auth_rejected"
	case FailureTimeout:
		return "timeout"
	default:
		return "transient"
	}
}

// statusCarrier is implemented by errors that know the upstream HTTP status
type statusCarrier interface {
	HTTPStatus() int
}

// authMarkers identify authorization failures in free-form error text
var authMarkers = []string{"401", "403", "unauthorized"}

// Classify decides how a failure affects the credential that served it.
// A failed refresh is judged by the identity provider's verdict on the
// grant, never by the token endpoint's status. An upstream HTTP status
// decides on its own. Timeouts and transport errors are transient. Only a
// bare error with no structure falls back to authorization markers in its
// text.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureTransient
	}

	if errors.Is(err, ErrRefreshFailed) {
		switch {
		case errors.Is(err, oauth.ErrGrantRevoked):
			return FailureAuthRejected
		case IsTimeout(err):
			return FailureTimeout
		default:
			return FailureTransient
		}
	}

	var sc statusCarrier
	if errors.As(err, &sc) {
		switch sc.HTTPStatus() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return FailureAuthRejected
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return FailureTimeout
		default:
			return FailureTransient
		}
	}

	if IsTimeout(err) {
		return FailureTimeout
	}
	if isTransport(err) {
		return FailureTransient
	}

	text := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(text, marker) {
			return FailureAuthRejected
		}
	}
	return FailureTransient
}

// isTransport reports whether err comes from the connection rather than
// from an upstream answer. Its text carries socket addresses, which may
// contain any digits.
func isTransport(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	var errno syscall.Errno
	return errors.As(err, &urlErr) ||
		errors.As(err, &netErr) ||
		errors.As(err, &errno) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// IsTimeout reports whether err comes from an expired deadline
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
