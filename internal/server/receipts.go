package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetReceiptPDF(c *gin.Context) {
	id := parseID(c.Param("id"))
	if id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}
	orgID := s.resolveOrgID(c, 0)
	if orgID == 0 {
		AbortWithError(c, newValidationError("org_id", "invalid_org_id", "organization is required"))
		return
	}

	reader, err := s.receiptSvc.RenderPDF(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if reader == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=receipt-%d.pdf", id))
	c.Data(http.StatusOK, "application/pdf", content)
}
