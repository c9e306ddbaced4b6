package router

import (
	"fmt"
	"html/template"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-contrib/multitemplate"
	"github.com/pkg/errors"
)

var funcMap = template.FuncMap{
	"timeAgo": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return humanize.Time(t)
	},
	"date": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04 UTC")
	},
	"percent": func(f float64) string {
		return fmt.Sprintf("%.2f%%", f)
	},
	"comma": func(n int64) string {
		return humanize.Comma(n)
	},
	"safeHTML": func(s string) template.HTML {
		return template.HTML(s)
	},
}

// LoadTemplates registers each view together with the shared layouts.
func LoadTemplates(templatesDir string) (multitemplate.Renderer, error) {
	r := multitemplate.NewRenderer()

	layouts, err := filepath.Glob(filepath.Join(templatesDir, "layouts", "*.html"))
	if err != nil {
		return nil, errors.Wrap(err, "glob layouts")
	}
	if len(layouts) == 0 {
		return nil, errors.Errorf("no layouts found in %s", templatesDir)
	}

	assemble := func(view string) []string {
		files := make([]string, 0, len(layouts)+1)
		files = append(files, layouts...)
		return append(files, filepath.Join(templatesDir, "views", view))
	}

	for _, view := range []string{"poll/detail.html", "error.html"} {
		r.AddFromFilesFuncs(view, funcMap, assemble(view)...)
	}
	return r, nil
}
