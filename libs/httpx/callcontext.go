package httpx

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/eventrelay/libs/appctx"
)

const (
	TenantIDHeader = "X-Tenant-Id"
	UserIDHeader   = "X-User-Id"
)

// WithCallContext copies tenant/user headers and the request id into the
// ambient call context. Chain it after WithRequestID.
func WithCallContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := RequestIDFromContext(ctx); id != "" {
			ctx = appctx.WithRequestID(ctx, id)
		}
		if tenantID := strings.TrimSpace(r.Header.Get(TenantIDHeader)); tenantID != "" {
			ctx = appctx.WithTenantID(ctx, tenantID)
		}
		if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
			ctx = appctx.WithUserID(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
