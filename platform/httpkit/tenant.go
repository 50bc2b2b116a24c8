// Package httpkit provides HTTP utilities including tenant extraction.
package httpkit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const errInvalidTenant = "valid tenant_id is required"

// TenantID extracts the tenant identifier from the request.
// It checks the query string first, then multipart/form fields. Tenancy
// enforcement happens upstream; handlers only need a well-formed ID.
func TenantID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.Query("tenant_id")
	if raw == "" {
		raw = c.PostForm("tenant_id")
	}
	if raw == "" {
		return uuid.UUID{}, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

// MustTenantID extracts the tenant identifier from the request.
// If it is missing or malformed, it aborts with 400 Bad Request.
func MustTenantID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := TenantID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errInvalidTenant})
		return uuid.UUID{}, false
	}
	return id, true
}
