package view

import (
	"bytes"
	"context"
	"io"

	"github.com/a-h/templ"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	md     = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy = bluemonday.UGCPolicy()
)

// Markdown converts src to HTML and strips anything unsafe.
func Markdown(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := md.Convert(src, &buf); err != nil {
		return nil, err
	}
	return policy.SanitizeBytes(buf.Bytes()), nil
}

// MarkdownComponent renders src as sanitized HTML.
func MarkdownComponent(src []byte) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		html, err := Markdown(src)
		if err != nil {
			return err
		}
		_, err = w.Write(html)
		return err
	})
}

// AddMarkdown registers a view whose model is the markdown source
// (string or []byte); a nil model renders fallback.
func (r *Registry) AddMarkdown(name string, fallback []byte) {
	r.Add(name, func(model any) templ.Component {
		switch v := model.(type) {
		case string:
			return MarkdownComponent([]byte(v))
		case []byte:
			return MarkdownComponent(v)
		default:
			return MarkdownComponent(fallback)
		}
	})
}
