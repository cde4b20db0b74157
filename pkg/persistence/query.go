// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package persistence

import (
	"context"
	"fmt"
	"slices"

	"github.com/pbinitiative/zenpvm/internal/appcontext"
)

// TenantCheck restricts a query to rows of the listed tenants. Rows without a
// tenant are visible to everyone.
type TenantCheck struct {
	Enabled       bool
	AuthTenantIDs []string
}

func (c TenantCheck) allows(tenantID string) bool {
	return !c.Enabled || tenantID == "" || slices.Contains(c.AuthTenantIDs, tenantID)
}

// AuthorizationCheck restricts a query to rows of process definitions the
// current user may read.
type AuthorizationCheck struct {
	Enabled        bool
	DefinitionKeys []string
}

func (c AuthorizationCheck) allows(definitionKey string) bool {
	return !c.Enabled || slices.Contains(c.DefinitionKeys, definitionKey)
}

// HistoricVariableInstanceQuery selects historic variables. Empty criteria
// match everything. Results are ordered by creation time.
type HistoricVariableInstanceQuery struct {
	VariableName         string
	ProcessInstanceIDs   []string
	CaseInstanceIDs      []string
	TaskIDs              []string
	ExecutionIDs         []string
	ProcessDefinitionKey string
	TenantIDs            []string
	IncludeDeleted       bool

	TenantCheck TenantCheck
	AuthCheck   AuthorizationCheck
}

func (q *HistoricVariableInstanceQuery) matches(h *HistoricVariableInstanceEntity) bool {
	if q.VariableName != "" && h.Name != q.VariableName {
		return false
	}
	if !inList(q.ProcessInstanceIDs, h.ProcessInstanceID) ||
		!inList(q.CaseInstanceIDs, h.CaseInstanceID) ||
		!inList(q.TaskIDs, h.TaskID) ||
		!inList(q.ExecutionIDs, h.ExecutionID) ||
		!inList(q.TenantIDs, h.TenantID) {
		return false
	}
	if q.ProcessDefinitionKey != "" && h.ProcessDefinitionKey != q.ProcessDefinitionKey {
		return false
	}
	if !q.IncludeDeleted && h.State == HistoricVariableStateDeleted {
		return false
	}
	return q.TenantCheck.allows(h.TenantID) && q.AuthCheck.allows(h.ProcessDefinitionKey)
}

// inList treats an empty v as a missing column value, which no id list
// matches.
func inList(list []string, v string) bool {
	return len(list) == 0 || (v != "" && slices.Contains(list, v))
}

// QueryConfigurer adds restrictions derived from the caller to a query before
// it runs. Configuring a query twice has the same effect as configuring it
// once.
type QueryConfigurer interface {
	ConfigureQuery(ctx context.Context, query *HistoricVariableInstanceQuery) error
}

// TenantQueryConfigurer limits queries to the tenants carried by the request
// context. Requests without tenant information are not restricted.
type TenantQueryConfigurer struct{}

func (TenantQueryConfigurer) ConfigureQuery(ctx context.Context, query *HistoricVariableInstanceQuery) error {
	tenantIDs, ok := appcontext.GetTenantIDs(ctx)
	if !ok {
		query.TenantCheck = TenantCheck{}
		return nil
	}
	query.TenantCheck = TenantCheck{Enabled: true, AuthTenantIDs: slices.Clone(tenantIDs)}
	return nil
}

// PermissionProvider answers which process definitions a user may read.
type PermissionProvider interface {
	// ReadableProcessDefinitionKeys returns all=true when the user may read
	// every process definition.
	ReadableProcessDefinitionKeys(ctx context.Context, userID string) (keys []string, all bool, err error)
}

// AuthorizationQueryConfigurer limits queries to process definitions the
// authenticated user may read.
type AuthorizationQueryConfigurer struct {
	Permissions PermissionProvider
}

func (c AuthorizationQueryConfigurer) ConfigureQuery(ctx context.Context, query *HistoricVariableInstanceQuery) error {
	userID, ok := appcontext.GetUserID(ctx)
	if !ok || c.Permissions == nil {
		query.AuthCheck = AuthorizationCheck{}
		return nil
	}
	keys, all, err := c.Permissions.ReadableProcessDefinitionKeys(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve permissions of user %s: %w", userID, err)
	}
	if all {
		query.AuthCheck = AuthorizationCheck{}
		return nil
	}
	query.AuthCheck = AuthorizationCheck{Enabled: true, DefinitionKeys: slices.Clone(keys)}
	return nil
}

// StaticPermissions grants users read access to fixed sets of process
// definition keys. A "*" entry grants access to everything. Unknown users
// may read nothing.
type StaticPermissions map[string][]string

func (p StaticPermissions) ReadableProcessDefinitionKeys(_ context.Context, userID string) ([]string, bool, error) {
	keys := p[userID]
	if slices.Contains(keys, "*") {
		return nil, true, nil
	}
	return slices.Clone(keys), false, nil
}
