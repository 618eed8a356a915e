package rules

import (
	"fmt"
	"strings"
)

// BaseScope returns the root scope of the bridge: the static topology from
// the configuration plus the pattern and format functions. extra functions
// (the simulator registers its own) are appended.
func BaseScope(topology map[string]any, extra ...Function) *Scope {
	funcs := []Function{
		{Name: "pattern", Fn: patternFunc},
		{Name: "format", Fn: formatFunc},
	}
	funcs = append(funcs, extra...)

	if topology == nil {
		topology = map[string]any{}
	}
	return NewScope(map[string]any{
		"topology": Normalize(topology),
	}, funcs...)
}

// patternFunc implements pattern(source).
func patternFunc(params ...any) (any, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("pattern: expected 1 argument, got %d", len(params))
	}
	src, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("pattern: expected string argument, got %s", TypeName(params[0]))
	}
	return NewPattern(src)
}

// formatFunc implements format(template, args). Placeholders are written
// {name} and looked up in the args map; {{ and }} produce literal braces.
func formatFunc(params ...any) (any, error) {
	if len(params) < 1 || len(params) > 2 {
		return nil, fmt.Errorf("format: expected 1 or 2 arguments, got %d", len(params))
	}
	tmpl, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("format: expected string template, got %s", TypeName(params[0]))
	}
	var args map[string]any
	if len(params) == 2 && params[1] != nil {
		m, ok := Normalize(params[1]).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("format: expected map of arguments, got %s", TypeName(params[1]))
		}
		args = m
	}
	return Format(tmpl, args)
}

// Format substitutes {name} placeholders in tmpl with values from args.
func Format(tmpl string, args map[string]any) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("format: unterminated placeholder in %q", tmpl)
			}
			name := tmpl[i+1 : i+end]
			v, ok := args[name]
			if !ok {
				return "", fmt.Errorf("format: missing argument %q", name)
			}
			b.WriteString(formatValue(v))
			i += end
		case c == '}':
			return "", fmt.Errorf("format: single '}' in %q", tmpl)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
