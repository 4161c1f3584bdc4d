package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	obscontext "github.com/smallbiznis/paycapture/internal/observability/context"
	"github.com/smallbiznis/paycapture/internal/observability/logger"
	"go.uber.org/zap"
)

// maxWebhookBody bounds how much of a notification is read.
const maxWebhookBody = 1 << 20

// handleWebhook always answers 200. Failures are logged and kept on the
// event row.
func (s *Server) handleWebhook(processor gatewaydomain.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("processor", string(processor))
		c.Request = c.Request.WithContext(obscontext.WithProcessor(c.Request.Context(), string(processor)))
		log := logger.WithContext(c.Request.Context(), s.log)

		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			log.Warn("failed to read webhook body", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		orgID := s.resolveOrgID(c, 0)
		if err := s.webhookSvc.IngestWebhook(c.Request.Context(), orgID, processor, payload, c.Request.Header); err != nil {
			log.Error("webhook ingestion failed", zap.Int64("org_id", orgID), zap.Error(err))
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
