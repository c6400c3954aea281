package tools

import (
	"fmt"
	"strings"
)

// Args are the arguments an engine passed to a tool.
type Args map[string]interface{}

// String returns the trimmed string value of key, or "" when absent.
func (a Args) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}
