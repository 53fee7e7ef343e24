package util

import (
	"bytes"
	"strings"
	"text/template"
)

// RenderTemplate expands {{ }} placeholders in operator-supplied prompt text
// against data. Text without markers is returned untouched.
func RenderTemplate(text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("prompt").Option("missingkey=zero").Funcs(template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"first": func(s string) string {
			if f := strings.Fields(s); len(f) > 0 {
				return f[0]
			}
			return ""
		},
	}).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
