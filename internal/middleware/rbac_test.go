package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/physioconnect/physioconnect-api/internal/models"
)

func rbacContext(claims *models.JWTClaims, paramID string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/"+paramID, nil)
	if paramID != "" {
		c.Params = gin.Params{{Key: "id", Value: paramID}}
	}
	if claims != nil {
		c.Set(ContextUserKey, claims)
	}
	return c, rec
}

func TestRBACAllowsRole(t *testing.T) {
	c, rec := rbacContext(&models.JWTClaims{UserID: "u1", Role: models.RoleAdmin}, "u2")

	RequireRoles(models.RoleAdmin)(c)

	assert.False(t, c.IsAborted())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRBACRejectsRole(t *testing.T) {
	c, rec := rbacContext(&models.JWTClaims{UserID: "u1", Role: models.RolePatient}, "u2")

	RequireRoles(models.RoleAdmin)(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRBACSelfMatchesOwnID(t *testing.T) {
	c, _ := rbacContext(&models.JWTClaims{UserID: "u1", Role: models.RolePatient}, "u1")

	RBAC(string(models.RoleAdmin), SelfRole)(c)

	assert.False(t, c.IsAborted())
}

func TestRBACSelfRejectsOtherID(t *testing.T) {
	c, rec := rbacContext(&models.JWTClaims{UserID: "u1", Role: models.RolePatient}, "u2")

	RBAC(string(models.RoleAdmin), SelfRole)(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRBACRequiresClaims(t *testing.T) {
	c, rec := rbacContext(nil, "u1")

	RequireRoles(models.RoleAdmin)(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResponseMetaRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/stats", nil)

	c.Set(responseMetaKey, map[string]interface{}{})
	SetCacheHit(c, true)
	SetMeta(c, "warning", "no match")

	meta := ExtractMeta(c)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Equal(t, "no match", meta["warning"])
}
