// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package sanitize makes values received from the network safe to log (CWE-117).
package sanitize // import "github.com/newrelic/nrdot-livemetrics/internal/common/sanitize"

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/newrelic/nrdot-livemetrics/internal/common/maps"
)

// maxLogged bounds strings echoed from the control plane into log entries.
const maxLogged = 512

// String removes control characters and bounds the length of s.
func String(s string) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if len(clean) > maxLogged {
		return maps.Truncate(clean, maxLogged) + "..."
	}
	return clean
}

// URL renders u for logging without credentials or control characters.
func URL(u *url.URL) string {
	if u == nil {
		return ""
	}
	return String(u.Redacted())
}
