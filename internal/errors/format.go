package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ae, ok := As(err)
	if !ok {
		ae = InternalError(err.Error(), err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", ae.Message))
	if ae.Cause != nil && ae.Cause.Error() != ae.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %s\n", ae.Cause))
	}
	if ae.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ae.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ae.Code))

	return sb.String()
}

// errorBody is the "error" object written by FormatJSON.
type errorBody struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   Category          `json:"category"`
	Cause      string            `json:"cause,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	ExitCode   int               `json:"exit_code"`
}

// FormatJSON renders err as {"error": {...}} for commands whose output is
// JSON, so scripts reading stdout or stderr get a parseable failure too.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return []byte("null"), nil
	}

	ae, ok := As(err)
	if !ok {
		ae = InternalError(err.Error(), err)
	}

	body := errorBody{
		Code:       ae.Code,
		Message:    ae.Message,
		Category:   ae.Category,
		Suggestion: ae.Suggestion,
		Details:    ae.Details,
		ExitCode:   ExitCode(ae),
	}
	if ae.Cause != nil && ae.Cause.Error() != ae.Message {
		body.Cause = ae.Cause.Error()
	}
	return json.Marshal(struct {
		Error errorBody `json:"error"`
	}{body})
}

// LogAttrs returns slog attributes describing err: the code and category of
// a structured error plus its details, or just the message otherwise.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	ae, ok := As(err)
	if !ok {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error", ae.Error()),
		slog.String("error_code", ae.Code),
		slog.String("category", string(ae.Category)),
		slog.String("severity", string(ae.Severity)),
	}
	for _, k := range slices.Sorted(maps.Keys(ae.Details)) {
		attrs = append(attrs, slog.String("detail_"+k, ae.Details[k]))
	}
	return attrs
}
