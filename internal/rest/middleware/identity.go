package middleware

import (
	"net/http"
	"strings"

	"github.com/pbinitiative/zenpvm/internal/appcontext"
	otelint "github.com/pbinitiative/zenpvm/internal/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	TenantHeader = "X-Tenant-Id"
	UserHeader   = "X-User-Id"
)

// Identity puts the tenants and the user announced in request headers into
// the request context, where history queries pick them up. Authentication
// itself happens in front of the server.
func Identity() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if header := r.Header.Get(TenantHeader); header != "" {
				var tenants []string
				for _, tenant := range strings.Split(header, ",") {
					if tenant = strings.TrimSpace(tenant); tenant != "" {
						tenants = append(tenants, tenant)
					}
				}
				ctx = appcontext.WithTenantIDs(ctx, tenants...)
				trace.SpanFromContext(ctx).SetAttributes(otelint.TenantKey.StringSlice(tenants))
			}
			if user := r.Header.Get(UserHeader); user != "" {
				ctx = appcontext.WithUserID(ctx, user)
				trace.SpanFromContext(ctx).SetAttributes(otelint.UserKey.String(user))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
