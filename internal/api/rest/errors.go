package rest

import (
	"net/http"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/gin-gonic/gin"
)

func statusForKind(kind types.ErrorKind) int {
	switch kind {
	case types.KindEndpointNotFound:
		return http.StatusNotFound
	case types.KindEndpointNotReady:
		return http.StatusConflict
	case types.KindUnknownVariant, types.KindMalformedPayload,
		types.KindInvalidIndexRange, types.KindEmptyRequest:
		return http.StatusBadRequest
	case types.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case types.KindBackendError:
		return http.StatusBadGateway
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the typed error as an ErrorResponse.
func respondError(c *gin.Context, err error) {
	kind := types.KindOf(err)
	code := string(kind)
	if code == "" {
		code = "Internal"
	}
	_ = c.Error(err)
	c.JSON(statusForKind(kind), types.NewErrorResponse(code, err.Error(), gin.H{
		"retryable": kind.Retryable(),
	}))
}

func badRequest(c *gin.Context, op, format string, args ...any) {
	respondError(c, types.Errorf(types.KindMalformedPayload, op, format, args...))
}
