package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
)

type upsertGatewaySettingsRequest struct {
	OrgID        flexibleID `json:"org_id"`
	Mode         string     `json:"mode"`
	ClientID     string     `json:"client_id"`
	ClientSecret string     `json:"client_secret"`
	WebhookID    string     `json:"webhook_id"`
	Currency     string     `json:"currency"`
}

type updateGatewaySettingsStatusRequest struct {
	OrgID    flexibleID `json:"org_id"`
	IsActive *bool      `json:"is_active"`
}

func (s *Server) ListGatewaySettings(c *gin.Context) {
	resp, err := s.gatewaySvc.ListSettings(c.Request.Context(), s.resolveOrgID(c, 0))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": resp})
}

func (s *Server) UpsertGatewaySettings(c *gin.Context) {
	var req upsertGatewaySettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.gatewaySvc.UpsertSettings(c.Request.Context(), gatewaydomain.UpsertRequest{
		OrgID:        s.resolveOrgID(c, int64(req.OrgID)),
		Processor:    gatewaydomain.Processor(strings.ToLower(strings.TrimSpace(c.Param("processor")))),
		Mode:         gatewaydomain.Mode(strings.ToLower(strings.TrimSpace(req.Mode))),
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		WebhookID:    req.WebhookID,
		Currency:     req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"setting": resp})
}

func (s *Server) UpdateGatewaySettingsStatus(c *gin.Context) {
	var req updateGatewaySettingsStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.IsActive == nil {
		AbortWithError(c, newValidationError("is_active", "invalid_is_active", "invalid is_active"))
		return
	}

	processor := gatewaydomain.Processor(strings.ToLower(strings.TrimSpace(c.Param("processor"))))
	resp, err := s.gatewaySvc.SetActive(c.Request.Context(), s.resolveOrgID(c, int64(req.OrgID)), processor, *req.IsActive)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"setting": resp})
}
