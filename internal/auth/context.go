package auth

import "context"

type ctxKey string

const (
	ctxKeyTenantID ctxKey = "coldchain.auth.tenant_id"
	ctxKeyRole     ctxKey = "coldchain.auth.role"
	ctxKeySubject  ctxKey = "coldchain.auth.subject"
)

// WithIdentity records the caller's tenant, role and subject on the
// request context. The middleware is the only writer; handlers read.
func WithIdentity(ctx context.Context, tenantID string, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyTenantID, tenantID)
	ctx = context.WithValue(ctx, ctxKeyRole, role)
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// TenantIDFromContext returns the caller's tenant, or "" outside an
// authenticated request.
func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tenantID, _ := ctx.Value(ctxKeyTenantID).(string)
	return tenantID
}

// RoleFromContext returns the caller's role. A raw string value is
// normalized so callers never see an unknown role.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	switch value := ctx.Value(ctxKeyRole).(type) {
	case Role:
		return value
	case string:
		if normalized, ok := NormalizeRole(value); ok {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext returns the token subject, or "" outside an
// authenticated request.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	subject, _ := ctx.Value(ctxKeySubject).(string)
	return subject
}
