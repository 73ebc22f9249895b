// Copyright New Relic, Inc. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package maps // import "github.com/newrelic/nrdot-livemetrics/internal/common/maps"

import (
	extmaps "maps"
	"unicode/utf8"
)

// MergeStringMaps merges n maps with a later map's keys overriding earlier maps.
func MergeStringMaps(maps ...map[string]string) map[string]string {
	ret := map[string]string{}
	for _, m := range maps {
		extmaps.Copy(ret, m)
	}
	return ret
}

// CloneTruncated copies m, cutting every value to at most maxLen bytes without splitting a
// UTF-8 sequence. A non-positive maxLen copies values unchanged. A nil or empty m yields nil.
func CloneTruncated(m map[string]string, maxLen int) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Truncate(v, maxLen)
	}
	return out
}

// Truncate cuts s to at most maxLen bytes on a rune boundary.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
