package errors

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI renders err for the terminal:
//
//	Error: index root /srv/index is busy
//	  Hint: Wait for the running job or cancel it with 'atrium jobs cancel'
//	  Code: ERR_701_INDEX_ROOT_BUSY
//
// Errors that carry no code print their message only.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	ae, ok := As(err)
	if !ok {
		return "Error: " + err.Error() + "\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ae.Message)
	if ae.Cause != nil && !strings.Contains(ae.Message, ae.Cause.Error()) {
		fmt.Fprintf(&sb, "  Cause: %s\n", ae.Cause)
	}
	for _, k := range sortedKeys(ae.Details) {
		fmt.Fprintf(&sb, "  %s: %s\n", k, ae.Details[k])
	}
	if ae.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ae.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ae.Code)
	return sb.String()
}

// LogAttrs returns slog attributes describing err. Coded errors add their
// code, category and details; any error adds "error".
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	attrs := []any{slog.String("error", err.Error())}
	ae, ok := As(err)
	if !ok {
		return attrs
	}
	attrs = append(attrs,
		slog.String("error_code", ae.Code),
		slog.String("category", string(ae.Category)),
		slog.Bool("retryable", ae.Retryable))
	for _, k := range sortedKeys(ae.Details) {
		attrs = append(attrs, slog.String("detail_"+k, ae.Details[k]))
	}
	return attrs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
