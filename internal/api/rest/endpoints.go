package rest

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/endpoints
func (s *Server) listEndpoints(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}

	pageSize := s.defaultPageSize
	if raw := c.Query("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "list endpoints", "pageSize must be a positive integer")
			return
		}
		pageSize = n
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	page, err := s.lm.Registry().Query(c.Request.Context(), filter, c.Query("continuationToken"), pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GET /api/v1/endpoints/:id
func (s *Server) getEndpoint(c *gin.Context) {
	rec, err := s.lm.Registry().Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// filterFromQuery builds a filter from query parameters named like the JSON fields.
func filterFromQuery(c *gin.Context) (types.QueryFilter, error) {
	var f types.QueryFilter
	str := func(name string) *string {
		if v, ok := c.GetQuery(name); ok {
			return &v
		}
		return nil
	}
	boolean := func(name string) (*bool, error) {
		v, ok := c.GetQuery(name)
		if !ok {
			return nil, nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, types.Errorf(types.KindMalformedPayload, "parse filter", "%s must be a boolean", name)
		}
		return &b, nil
	}

	f.EndpointID = str("endpointId")
	f.URL = str("url")
	f.SecurityPolicy = str("securityPolicy")
	f.DiscovererID = str("discovererId")
	f.ApplicationID = str("applicationId")
	f.SupervisorID = str("supervisorId")
	f.SiteOrGatewayID = str("siteOrGatewayId")

	if v := str("securityMode"); v != nil {
		mode, err := types.ParseSecurityMode(*v)
		if err != nil {
			return f, err
		}
		f.SecurityMode = &mode
	}
	if v := str("state"); v != nil {
		state, err := types.ParseEndpointState(*v)
		if err != nil {
			return f, err
		}
		f.State = &state
	}
	if v := str("certificate"); v != nil {
		cert, err := base64.StdEncoding.DecodeString(*v)
		if err != nil {
			return f, types.Errorf(types.KindMalformedPayload, "parse filter", "certificate must be base64")
		}
		f.Certificate = cert
	}

	var err error
	if f.Activated, err = boolean("activated"); err != nil {
		return f, err
	}
	if f.Connected, err = boolean("connected"); err != nil {
		return f, err
	}
	include, err := boolean("includeNotSeenSince")
	if err != nil {
		return f, err
	}
	f.IncludeNotSeenSince = include != nil && *include

	return f, nil
}
