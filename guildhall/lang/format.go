// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package lang

import (
	"fmt"
	"regexp"
)

const maxParamLen = 200

var (
	identRe       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// SanitizeParams filters formatting parameters down to identifier keys
// and string values. Scalars are stringified and truncated at 200
// characters; anything else is replaced by its type name so templates
// never interpolate arbitrary structures.
func SanitizeParams(params map[string]interface{}) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if !identRe.MatchString(k) {
			continue
		}
		var s string
		switch v.(type) {
		case nil:
			s = ""
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			s = fmt.Sprintf("%v", v)
		default:
			s = fmt.Sprintf("%T", v)
		}
		if len(s) > maxParamLen {
			s = s[:maxParamLen]
		}
		out[k] = s
	}
	return out
}

// Format expands {name} placeholders. When the message references a
// placeholder the params don't supply, the unformatted message is
// returned whole rather than a half-filled one.
func Format(msg string, params map[string]string) string {
	for _, m := range placeholderRe.FindAllStringSubmatch(msg, -1) {
		if _, ok := params[m[1]]; !ok {
			return msg
		}
	}
	return placeholderRe.ReplaceAllStringFunc(msg, func(tok string) string {
		return params[tok[1:len(tok)-1]]
	})
}
