package tmpl

import (
	"bytes"
	"text/template"
)

func Render(name, text string, data interface{}) (string, error) {
	tpl := template.New(name).Option("missingkey=error")
	tpl, err := tpl.Parse(text)
	if err != nil {
		return "", err
	}
	buf := &bytes.Buffer{}
	if err := tpl.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderStrings renders every element of args against data, preserving order.
// Used for expanding {{.Triple}}-like placeholders in configured command lines.
func RenderStrings(name string, args []string, data interface{}) ([]string, error) {
	res := make([]string, 0, len(args))

	for _, a := range args {
		r, err := Render(name, a, data)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}

	return res, nil
}
