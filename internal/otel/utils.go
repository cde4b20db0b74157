// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

// Identity attributes set on request spans.
const (
	TenantKey = attribute.Key("pvm.tenant")
	UserKey   = attribute.Key("pvm.user")
)

// TransferHeaderKey is the context key of a configured transfer header.
type TransferHeaderKey string
