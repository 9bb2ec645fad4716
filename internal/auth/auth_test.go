package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newRouter(resolver Resolver) chi.Router {
	r := chi.NewRouter()
	r.Use(Middleware(resolver, Individual))
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		role, _ := FromContext(r.Context())
		w.Write([]byte(role))
	})
	r.With(Require(Advisor, Institution)).Delete("/admin", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func do(router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" Advisor "); err != nil || r != Advisor {
		t.Errorf("ParseRole(Advisor) = %q, %v", r, err)
	}
	if _, err := ParseRole("admin"); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
	if Individual.ManagesClients() || !Institution.ManagesClients() {
		t.Error("unexpected ManagesClients")
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	router := newRouter(StaticTokens{})

	w := do(router, "GET", "/whoami", "")
	if w.Code != http.StatusOK || w.Body.String() != "individual" {
		t.Errorf("expected fallback role, got %d %q", w.Code, w.Body.String())
	}
}

func TestMiddleware_ResolvesToken(t *testing.T) {
	router := newRouter(StaticTokens{"t-adv": Advisor, "t-ind": Individual})

	if w := do(router, "GET", "/whoami", "t-adv"); w.Body.String() != "advisor" {
		t.Errorf("expected advisor, got %q", w.Body.String())
	}
	if w := do(router, "GET", "/whoami", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := do(router, "GET", "/whoami", "nope"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown token, got %d", w.Code)
	}
}

func TestRequire(t *testing.T) {
	router := newRouter(StaticTokens{"t-adv": Advisor, "t-ind": Individual})

	if w := do(router, "DELETE", "/admin", "t-ind"); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for individual, got %d", w.Code)
	}
	if w := do(router, "DELETE", "/admin", "t-adv"); w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for advisor, got %d", w.Code)
	}
}
