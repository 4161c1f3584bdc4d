package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/paycapture/internal/observability/context"
)

const HeaderOrg = "X-Org-ID"

// resolveOrgID picks the organization for a request: explicit body value,
// then the X-Org-ID header, then the org_id query parameter, then
// DEFAULT_ORG_ID. Zero means none could be resolved.
func (s *Server) resolveOrgID(c *gin.Context, fromBody int64) int64 {
	orgID := fromBody
	if orgID == 0 {
		orgID = parseID(c.GetHeader(HeaderOrg))
	}
	if orgID == 0 {
		orgID = parseID(c.Query("org_id"))
	}
	if orgID == 0 {
		orgID = s.cfg.DefaultOrgID
	}
	if orgID != 0 {
		ctx := obscontext.WithOrgID(c.Request.Context(), strconv.FormatInt(orgID, 10))
		c.Request = c.Request.WithContext(ctx)
	}
	return orgID
}

func parseID(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
