// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package profile

import (
	"os"
	"strings"
)

type ProfileType string

// Current is DEV unless PROFILE says otherwise.
var Current = DEV

const (
	DEV  ProfileType = "DEV"
	TEST ProfileType = "TEST"
	PROD ProfileType = "PROD"
)

// Parse reads a profile name case insensitively.
func Parse(name string) (ProfileType, bool) {
	switch p := ProfileType(strings.ToUpper(strings.TrimSpace(name))); p {
	case DEV, TEST, PROD:
		return p, true
	}
	return "", false
}

// InitProfile sets Current from the PROFILE environment variable. Unknown
// values keep the default.
func InitProfile() ProfileType {
	if p, ok := Parse(os.Getenv("PROFILE")); ok {
		Current = p
	}
	return Current
}
