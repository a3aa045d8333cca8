package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var ie *IndexError
	if !errors.As(err, &ie) {
		ie = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ie.Message))

	if ie.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ie.Suggestion))
	}

	sb.WriteString(fmt.Sprintf("  Code: %s\n", ie.Code))

	return sb.String()
}

// LogAttrs returns slog attributes describing err, ready to pass to slog.Warn and friends.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	var ie *IndexError
	if !errors.As(err, &ie) {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error_code", ie.Code),
		slog.String("error", ie.Message),
		slog.String("severity", string(ie.Severity)),
		slog.Bool("retryable", ie.Retryable),
	}
	if ie.Cause != nil {
		attrs = append(attrs, slog.String("cause", ie.Cause.Error()))
	}

	keys := make([]string, 0, len(ie.Details))
	for k := range ie.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String("detail_"+k, ie.Details[k]))
	}

	return attrs
}
