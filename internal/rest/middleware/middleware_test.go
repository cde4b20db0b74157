package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenpvm/internal/appcontext"
	"github.com/pbinitiative/zenpvm/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeQuery(t *testing.T) {
	// setup
	var got map[string][]string
	h := NormalizeQuery("id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
	}))

	// when
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?id=a,b&id=c&empty=&reason=x,y", nil))

	// then
	assert.Equal(t, []string{"a", "b", "c"}, got["id"])
	assert.Equal(t, []string{"x,y"}, got["reason"])
	assert.NotContains(t, got, "empty")
}

func TestIdentity(t *testing.T) {
	// setup
	var tenants []string
	var user string
	h := Identity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenants, _ = appcontext.GetTenantIDs(r.Context())
		user, _ = appcontext.GetUserID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TenantHeader, "acme, globex,")
	req.Header.Set(UserHeader, "jane")

	// when
	h.ServeHTTP(httptest.NewRecorder(), req)

	// then
	assert.Equal(t, []string{"acme", "globex"}, tenants)
	assert.Equal(t, "jane", user)
}

func TestOpentelemetryKeepsResponse(t *testing.T) {
	// setup
	r := chi.NewRouter()
	r.Use(Opentelemetry(config.Config{Tracing: config.Tracing{Name: "test", TransferHeaders: []string{"X-Correlation-Id"}}}))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(chi.URLParam(r, "id")))
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/items/7", nil)
	req.Header.Set("X-Correlation-Id", "c-1")

	// when
	r.ServeHTTP(rec, req)

	// then
	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "7", rec.Body.String())
}
