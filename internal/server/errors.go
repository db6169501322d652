package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.KindUnauthorized:
		return http.StatusForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindValidationFailed:
		return http.StatusBadRequest
	case apperrors.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": code, "message", "field"}. Internal
// failures expose only their code.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	status := statusForKind(kind)
	body := gin.H{"error": string(kind)}
	if coded, ok := apperrors.As(err); ok {
		body["error"] = coded.Code()
		if status != http.StatusInternalServerError {
			body["message"] = coded.Message()
		}
		if field := coded.Field(); field != "" {
			body["field"] = field
		}
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}
