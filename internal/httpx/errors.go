package httpx

import (
	"log/slog"
	"net/http"

	"github.com/sundayezeilo/deeplink/errx"
)

// ErrorKindToStatus maps errx.Kind to HTTP status codes.
// Failures of the upstream attribution service surface as 502 so clients can
// tell them apart from problems with their own request.
func ErrorKindToStatus(kind errx.Kind) int {
	switch kind {
	case errx.Invalid, errx.InvalidIntent:
		return http.StatusBadRequest
	case errx.Emulator:
		return http.StatusForbidden
	case errx.NoMatch:
		return http.StatusNotFound
	case errx.Network, errx.InvalidResponse, errx.Server:
		return http.StatusBadGateway
	case errx.Unavailable, errx.InstallReferrerUnavailable, errx.InstallReferrerTimeout:
		return http.StatusServiceUnavailable
	case errx.NotConfigured, errx.InvalidAPIKey:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorKindToCode maps errx.Kind to error codes for JSON responses.
func ErrorKindToCode(kind errx.Kind) string {
	switch kind {
	case errx.Invalid:
		return "invalid_input"
	case errx.InvalidIntent:
		return "invalid_intent"
	case errx.Emulator:
		return "emulator"
	case errx.NoMatch:
		return "no_match"
	case errx.Network:
		return "attribution_unreachable"
	case errx.InvalidResponse:
		return "attribution_invalid_response"
	case errx.Server:
		return "attribution_error"
	case errx.Unavailable:
		return "unavailable"
	case errx.InstallReferrerUnavailable:
		return "install_referrer_unavailable"
	case errx.InstallReferrerTimeout:
		return "install_referrer_timeout"
	case errx.NotConfigured:
		return "not_configured"
	case errx.InvalidAPIKey:
		return "invalid_api_key"
	default:
		return "internal_error"
	}
}

// exposeMessage reports whether the error text is safe to return to clients.
func exposeMessage(kind errx.Kind) bool {
	switch kind {
	case errx.Invalid, errx.InvalidIntent, errx.Emulator, errx.NoMatch,
		errx.InstallReferrerUnavailable, errx.InstallReferrerTimeout:
		return true
	default:
		return false
	}
}

// WriteKindError writes err as a JSON error response whose status and code
// follow its errx.Kind. Server-side failures are logged and answered with a
// generic message; for upstream Server errors the upstream status is
// included in the details.
func WriteKindError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := errx.KindOf(err)
	status := ErrorKindToStatus(kind)
	code := ErrorKindToCode(kind)

	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"request_id", GetRequestID(r.Context()),
			"op", errx.OpOf(err),
			"error_kind", kind,
			"error", err,
		)
	}

	message := http.StatusText(status)
	if exposeMessage(kind) {
		message = errx.MessageOf(err)
	}

	var details any
	if kind == errx.Server {
		details = map[string]int{"upstream_status": errx.StatusOf(err)}
	}

	WriteError(w, status, code, message, details)
}
