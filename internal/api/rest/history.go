package rest

import (
	"net/http"

	"github.com/KevinKickass/EndpointRegistry/internal/auth"
	"github.com/KevinKickass/EndpointRegistry/internal/historian"
	"github.com/KevinKickass/EndpointRegistry/internal/history"
	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/gin-gonic/gin"
)

// POST /api/v1/endpoints/:id/history/:variant
func (s *Server) executeHistory(c *gin.Context) {
	tag := history.Tag(c.Param("variant"))

	if perm := auth.ForVariant(s.lm.Catalog(), tag); !auth.HasPermission(c, perm) {
		c.JSON(http.StatusForbidden, types.NewErrorResponse("AUTH_403", "insufficient permissions", string(perm)))
		return
	}

	var env history.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		respondError(c, types.NewError(types.KindMalformedPayload, "bind envelope", err))
		return
	}

	result, err := s.lm.Historian().Execute(c.Request.Context(), c.Param("id"), env, tag)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /api/v1/endpoints/:id/history/next
func (s *Server) nextHistory(c *gin.Context) {
	var req historian.NextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, types.NewError(types.KindMalformedPayload, "bind next request", err))
		return
	}

	result, err := s.lm.Historian().Next(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /api/v1/history/variants
func (s *Server) listVariants(c *gin.Context) {
	catalog := s.lm.Catalog()
	variants := make([]gin.H, 0)
	for _, tag := range catalog.Tags() {
		kind, _ := catalog.KindOf(tag)
		variants = append(variants, gin.H{
			"tag":  tag,
			"kind": kind.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"variants": variants})
}
