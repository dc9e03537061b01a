package api

import (
	"errors"

	"github.com/gaud-proxy/gaud/internal/apierr"
	llmerrors "github.com/gaud-proxy/gaud/pkg/errors"
	"github.com/gaud-proxy/gaud/internal/router"
)

// mapDispatchError turns a router.Dispatch/DispatchStream failure into the
// client-facing error envelope. Provider-permanent errors (invalid
// request) surface as 400; rate-limited and exhausted ones as 429; anything
// else falls back to 500.
func mapDispatchError(err error) *apierr.Error {
	switch {
	case errors.Is(err, router.ErrNoCandidates):
		return apierr.BadRequest("no provider is configured for this model")
	case errors.Is(err, router.ErrAlreadyCompleted):
		return apierr.BadRequest("request id already completed")
	}

	var pe *llmerrors.ProviderError
	if !errors.As(err, &pe) {
		return apierr.Internal(err.Error())
	}

	switch pe.Kind {
	case llmerrors.KindInvalidRequest:
		return apierr.BadRequest(pe.Message)
	case llmerrors.KindAuthentication:
		return apierr.Unauthorized(pe.Message)
	case llmerrors.KindRateLimit:
		return apierr.RateLimited(pe.Message)
	case llmerrors.KindAllFailed:
		return apierr.ProviderUnhealthy("all candidate providers failed for this model")
	default:
		return &apierr.Error{Type: apierr.TypeInternal, Message: pe.Message, Code: "provider_error"}
	}
}
