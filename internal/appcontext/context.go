package appcontext

import (
	"context"
	"slices"
)

type APP_CONTEXT string

var (
	TenantIDsKey APP_CONTEXT = "tenantIds"
	UserIDKey    APP_CONTEXT = "userId"
	CommandIDKey APP_CONTEXT = "commandId"
)

// WithTenantIDs stores the tenants the caller is authenticated for.
func WithTenantIDs(ctx context.Context, tenantIDs ...string) context.Context {
	return context.WithValue(ctx, TenantIDsKey, slices.Clone(tenantIDs))
}

// GetTenantIDs returns false when no tenant authentication is present, an
// empty slice means the caller belongs to no tenant.
func GetTenantIDs(ctx context.Context) ([]string, bool) {
	tenantIDs, ok := ctx.Value(TenantIDsKey).([]string)
	if !ok {
		return nil, false
	}
	return slices.Clone(tenantIDs), true
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

func WithCommandID(ctx context.Context, commandID string) context.Context {
	return context.WithValue(ctx, CommandIDKey, commandID)
}

func GetCommandID(ctx context.Context) (string, bool) {
	commandID, ok := ctx.Value(CommandIDKey).(string)
	return commandID, ok
}
