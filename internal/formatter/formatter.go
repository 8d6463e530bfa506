// Package formatter renders mutation results and exports recovery codes to various formats (CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/shared"
)

// Output formats.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
)

// MarshalJSON encodes v without HTML escaping, indented when pretty is set.
func MarshalJSON(v any, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteResult writes v to w as JSON or as "key: value" lines.
//
// Text output flattens nested objects into dotted keys and lists into indexed keys, sorted so
// the same result always renders the same way. A top-level list renders one block per element.
func WriteResult(w io.Writer, v any, format string) error {
	switch format {
	case FormatJSON:
		data, err := MarshalJSON(v, true)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case FormatText, "":
		lines, err := textLines(v)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, strings.Join(lines, "\n")+"\n")
		return err
	default:
		return fmt.Errorf("%w: unknown output format %q", shared.ErrInvalidArgument, format)
	}
}

func textLines(v any) ([]string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}

	items, ok := generic.([]any)
	if !ok {
		return flatten("", generic), nil
	}
	if len(items) == 0 {
		return []string{"(none)"}, nil
	}

	var lines []string
	for i, item := range items {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, flatten("", item)...)
	}
	return lines, nil
}

func flatten(prefix string, v any) []string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var lines []string
		for _, k := range keys {
			lines = append(lines, flatten(join(prefix, k), val[k])...)
		}
		return lines
	case []any:
		if len(val) == 0 {
			return []string{prefix + ": []"}
		}
		var lines []string
		for i, item := range val {
			lines = append(lines, flatten(fmt.Sprintf("%s[%d]", prefix, i), item)...)
		}
		return lines
	case nil:
		return []string{prefix + ": -"}
	default:
		return []string{fmt.Sprintf("%s: %v", prefix, val)}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// ExportRecoveryCodes renders recovery codes as text, markdown or CSV.
func ExportRecoveryCodes(codes []string, format string) ([]byte, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no recovery codes to export", shared.ErrMissingArgument)
	}

	var buf bytes.Buffer
	switch format {
	case FormatText, "":
		buf.WriteString("MoviesNow recovery codes\n")
		buf.WriteString("Each code can be used once.\n\n")
		for _, code := range codes {
			buf.WriteString(code + "\n")
		}
	case FormatMarkdown:
		buf.WriteString("# MoviesNow recovery codes\n\n")
		buf.WriteString(fmt.Sprintf("**Generated**: %s\n\n", time.Now().UTC().Format(time.RFC3339)))
		buf.WriteString("Each code can be used once. Cross it off after use.\n\n")
		for _, code := range codes {
			buf.WriteString(fmt.Sprintf("- [ ] `%s`\n", code))
		}
	case FormatCSV:
		writer := csv.NewWriter(&buf)
		if err := writer.Write([]string{"Index", "Code"}); err != nil {
			return nil, fmt.Errorf("failed to write CSV headers: %w", err)
		}
		for i, code := range codes {
			if err := writer.Write([]string{fmt.Sprint(i + 1), code}); err != nil {
				return nil, fmt.Errorf("failed to write CSV record: %w", err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, fmt.Errorf("CSV writer error: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}

	return buf.Bytes(), nil
}

// WriteRecoveryCodes exports codes to path, readable only by the owner.
//
// Defaults to recovery_codes.{ext} for the format.
func WriteRecoveryCodes(codes []string, format, path string) (string, error) {
	data, err := ExportRecoveryCodes(codes, format)
	if err != nil {
		return "", err
	}

	if path == "" {
		path = "recovery_codes." + extension(format)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write recovery codes: %w", err)
	}
	return path, nil
}

func extension(format string) string {
	switch format {
	case FormatMarkdown:
		return "md"
	case FormatCSV:
		return "csv"
	default:
		return "txt"
	}
}

// FormatKind labels err by its failure kind, "error" for failures outside the taxonomy.
func FormatKind(err error) string {
	if err == nil {
		return ""
	}
	if kind := mutation.KindOf(err); kind != mutation.KindUnknown {
		return kind.String()
	}
	return "error"
}

// Hint suggests what the user can do about err.
func Hint(err error) string {
	switch mutation.KindOf(err) {
	case mutation.NeedStepUp:
		return "Run the command again and confirm your password when asked."
	case mutation.NetworkFailure, mutation.TransientServerFault, mutation.RateLimited:
		return "This is safe to retry. The same request will not be applied twice."
	case mutation.InvalidInput:
		return "Fix the highlighted field and try again."
	case mutation.TerminalClientError:
		if merr, ok := mutation.AsError(err); ok && merr.Code == "refresh_failed" {
			return "Sign in again with `mnow session login`."
		}
	}
	return ""
}
