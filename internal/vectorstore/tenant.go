package vectorstore

import (
	"context"
	"errors"
)

// Tenant isolation errors - fail closed: missing tenant context yields an
// error, never an unscoped query.
var (
	// ErrMissingTenant is returned when tenant info is missing from context.
	ErrMissingTenant = errors.New("tenant info missing from context")

	// ErrInvalidTenant is returned when the tenant identifier is invalid.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

// tenantContextKey is the context key for TenantInfo.
type tenantContextKey struct{}

// TenantInfo identifies the isolation boundary under which chunks are
// indexed and queries are scoped. TenantID is immutable once a record is
// written; it is the sole isolation mechanism.
type TenantInfo struct {
	TenantID string
}

// Validate checks that the tenant identifier is present.
func (t *TenantInfo) Validate() error {
	if t == nil || t.TenantID == "" {
		return ErrInvalidTenant
	}
	return nil
}

// ContextWithTenant adds TenantInfo to a context.
func ContextWithTenant(ctx context.Context, tenant *TenantInfo) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

// TenantFromContext extracts TenantInfo from a context.
// Returns ErrMissingTenant if absent - fail closed.
func TenantFromContext(ctx context.Context) (*TenantInfo, error) {
	val := ctx.Value(tenantContextKey{})
	if val == nil {
		return nil, ErrMissingTenant
	}
	tenant, ok := val.(*TenantInfo)
	if !ok || tenant == nil {
		return nil, ErrMissingTenant
	}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return tenant, nil
}

// HasTenant reports whether valid TenantInfo is present in the context.
func HasTenant(ctx context.Context) bool {
	_, err := TenantFromContext(ctx)
	return err == nil
}
