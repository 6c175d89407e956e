package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/yarntrack/yarn-track-api/internal/models"
)

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		claims *models.JWTClaims
		roles  []models.UserRole
		want   int
	}{
		{"allowed role", &models.JWTClaims{Role: models.RoleFactory}, []models.UserRole{models.RoleFactory}, http.StatusOK},
		{"one of several", &models.JWTClaims{Role: models.RoleOperator}, []models.UserRole{models.RoleOperator, models.RoleFactory}, http.StatusOK},
		{"wrong role", &models.JWTClaims{Role: models.RoleSales}, []models.UserRole{models.RoleAdmin}, http.StatusForbidden},
		{"no claims", nil, []models.UserRole{models.RoleAdmin}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request, _ = http.NewRequest(http.MethodGet, "/", nil)
			if tc.claims != nil {
				c.Set(ContextUserKey, tc.claims)
			}

			called := false
			RequireRoles(tc.roles...)(c)
			if !c.IsAborted() {
				called = true
			}

			if tc.want == http.StatusOK {
				require.True(t, called)
			} else {
				require.Equal(t, tc.want, w.Code)
				require.False(t, called)
			}
		})
	}
}
