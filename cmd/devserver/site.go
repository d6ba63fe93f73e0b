package main

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/project"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
{{.Body}}
<footer><small>{{.Env}} build, served by runway devserver</small></footer>
</body>
</html>
`))

type page struct {
	Title string
	Env   string
	Body  template.HTML
}

type siteHandler struct {
	proj *project.Project
	env  models.Environment
	md   goldmark.Markdown
}

func newSiteHandler(proj *project.Project, env models.Environment) http.Handler {
	h := &siteHandler{
		proj: proj,
		env:  env,
		md:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /{$}", h.index)
	return mux
}

// index renders index.md from the project root, or a placeholder page when
// there is none.
func (h *siteHandler) index(w http.ResponseWriter, r *http.Request) {
	body := template.HTML(fmt.Sprintf("<h1>%s</h1>", template.HTMLEscapeString(h.proj.Name())))

	src, err := os.ReadFile(filepath.Join(h.proj.Root, "index.md"))
	switch {
	case err == nil:
		var buf bytes.Buffer
		if err := h.md.Convert(src, &buf); err != nil {
			slog.Error("Failed to render index.md", "component", "devserver", "error", err)
			http.Error(w, "failed to render page", http.StatusInternalServerError)
			return
		}
		body = template.HTML(buf.String())
	case !os.IsNotExist(err):
		slog.Warn("Failed to read index.md", "component", "devserver", "error", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = pageTemplate.Execute(w, page{
		Title: h.proj.Name(),
		Env:   h.env.DisplayName(),
		Body:  body,
	})
	if err != nil {
		slog.Warn("Failed to write page", "component", "devserver", "error", err)
	}
}
