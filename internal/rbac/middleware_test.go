package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"negotiator/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, userID, role string, allowed ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireUser(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serve(t, "u", RoleAdmin, "nobody"); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_UnknownRoleDenied(t *testing.T) {
	if code := serve(t, "u", "guest", RoleUser); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_AllowedRole(t *testing.T) {
	if code := serve(t, "u", RoleUser, RoleUser); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireUser_IdentityRequired(t *testing.T) {
	if code := serve(t, "", RoleUser, RoleUser); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestCanReadOwner(t *testing.T) {
	if !CanReadOwner(RoleUser, "u1", "u1") {
		t.Fatalf("owner must read own negotiations")
	}
	if CanReadOwner(RoleUser, "u1", "u2") {
		t.Fatalf("user must not read another owner")
	}
	if !CanReadOwner(RoleAdmin, "a", "u2") {
		t.Fatalf("admin reads any owner")
	}
	if CanReadOwner(RoleUser, "", "") {
		t.Fatalf("anonymous caller has no owner")
	}
}
