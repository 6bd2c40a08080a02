package out

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/ggonzalez94/defi-intent/internal/config"
	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/goccy/go-json"
)

// Questioner is implemented by payloads that carry a clarification. Plain
// output renders the question as a block instead of key=value lines.
type Questioner interface {
	PendingQuestion() (pendingID string, q *model.DisambiguationOptions)
}

var (
	questionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))
	optionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))
	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
	blockStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#F59E0B")).
			Padding(0, 1)
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	if settings.OutputMode != "json" && len(settings.SelectFields) == 0 && env.Success {
		if q, ok := env.Data.(Questioner); ok {
			if id, opts := q.PendingQuestion(); opts != nil {
				return renderQuestion(w, id, *opts, env.Warnings)
			}
		}
	}

	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "json" {
			return encode(w, data)
		}
		return renderPlain(w, data)
	}

	if settings.OutputMode == "json" {
		env.Data = data
		return encode(w, env)
	}

	plain := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		plain["error"] = env.Error
	}
	return renderPlain(w, plain)
}

// Question renders a clarification block.
func Question(pendingID string, opts model.DisambiguationOptions) string {
	lines := []string{questionStyle.Render(opts.Question), ""}
	for i, opt := range opts.Options {
		line := fmt.Sprintf("%d. %s", i+1, optionStyle.Render(opt.ID))
		if opt.Label != "" && opt.Label != opt.ID {
			line += "  " + opt.Label
		}
		if opt.Description != "" {
			line += hintStyle.Render(" - " + opt.Description)
		}
		lines = append(lines, line)
	}
	footer := fmt.Sprintf("expires in %s", opts.Timeout())
	if pendingID != "" {
		footer = fmt.Sprintf("answer with: resolve %s --option <id> (%s)", pendingID, footer)
	}
	lines = append(lines, "", hintStyle.Render(footer))
	return blockStyle.Render(strings.Join(lines, "\n"))
}

func renderQuestion(w io.Writer, pendingID string, opts model.DisambiguationOptions, warnings []string) error {
	if _, err := fmt.Fprintln(w, Question(pendingID, opts)); err != nil {
		return err
	}
	for _, warning := range warnings {
		if _, err := fmt.Fprintln(w, hintStyle.Render("warning: "+warning)); err != nil {
			return err
		}
	}
	return nil
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			line, err := toLine(normalizeValue(v.Index(i).Interface()))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

// project keeps fields of data; a dotted field selects into nested objects.
func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookup(m, f); ok {
			out[f] = v
		}
	}
	return out
}

func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, t[k]))
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
