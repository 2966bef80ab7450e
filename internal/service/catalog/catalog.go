// Package catalog maps a free-text brief onto a fixed set of static site
// templates. Generation is pure: the same brief always yields the same files.
package catalog

import (
	"bytes"
	"embed"
	"strings"
	"text/template"

	"github.com/splax/pagesmith/internal/domain"
)

// Generated file names present in every set.
const (
	EntryPoint  = "index.html"
	Description = "README.md"
	License     = "LICENSE"
)

// DefaultCategory is used when no keyword matches.
const DefaultCategory = "default"

//go:embed templates/*.tmpl
var templateFS embed.FS

type category struct {
	name     string
	title    string
	summary  string
	keywords []string
	features []string
	page     string
}

// categories are checked in order; the first keyword hit wins.
var categories = []category{
	{
		name:     "calculator",
		title:    "Calculator App",
		summary:  "A responsive calculator for basic arithmetic.",
		keywords: []string{"calculator", "calc", "math"},
		features: []string{"Addition, subtraction, multiplication and division", "Keyboard support", "Responsive layout"},
		page:     "calculator.html.tmpl",
	},
	{
		name:     "counter",
		title:    "Counter App",
		summary:  "A persistent click counter.",
		keywords: []string{"counter", "count", "increment"},
		features: []string{"Increment, decrement and reset", "Value survives page reloads"},
		page:     "counter.html.tmpl",
	},
	{
		name:     "todo",
		title:    "Todo List",
		summary:  "A small list manager for everyday tasks.",
		keywords: []string{"todo", "task", "checklist"},
		features: []string{"Add and delete items", "Mark items as done", "Stored in local storage"},
		page:     "todo.html.tmpl",
	},
	{
		name:     "timer",
		title:    "Timer",
		summary:  "A stopwatch with an optional countdown.",
		keywords: []string{"timer", "stopwatch", "countdown"},
		features: []string{"Stopwatch with tenths of a second", "Countdown mode", "Pause and reset"},
		page:     "timer.html.tmpl",
	},
	{
		name:     "markdown",
		title:    "Markdown Editor",
		summary:  "A side-by-side markdown editor with live preview.",
		keywords: []string{"markdown", "md", "convert"},
		features: []string{"Live preview", "GitHub flavoured markdown via marked"},
		page:     "markdown.html.tmpl",
	},
	{
		name:     "lookup",
		title:    "GitHub User Lookup",
		summary:  "Look up public GitHub profiles by username.",
		keywords: []string{"github", "user", "profile"},
		features: []string{"Profile name, join date and repository count", "Uses the public GitHub REST API"},
		page:     "lookup.html.tmpl",
	},
}

var fallback = category{
	name:     DefaultCategory,
	title:    "Generated App",
	summary:  "A page generated from the requested brief.",
	features: []string{"Displays the original brief"},
	page:     "default.html.tmpl",
}

type pageData struct {
	Title     string
	Summary   string
	Brief     string
	Features  []string
	EchoBrief bool
}

var (
	readmeTmpl  = template.Must(template.ParseFS(templateFS, "templates/README.md.tmpl"))
	licenseTmpl = template.Must(template.ParseFS(templateFS, "templates/LICENSE.tmpl"))
	pages       = parsePages()
)

func parsePages() map[string]*template.Template {
	out := make(map[string]*template.Template, len(categories)+1)
	for _, c := range append(append([]category(nil), categories...), fallback) {
		out[c.name] = template.Must(template.ParseFS(templateFS, "templates/layout.html.tmpl", "templates/"+c.page))
	}
	return out
}

// Category returns the name of the category a brief selects.
func Category(brief string) string {
	return classify(brief).name
}

// Generate renders the file set for brief. It never fails.
func Generate(brief string) domain.FileSet {
	c := classify(brief)
	data := pageData{
		Title:     c.title,
		Summary:   c.summary,
		Brief:     brief,
		Features:  c.features,
		EchoBrief: c.name == DefaultCategory,
	}
	return domain.FileSet{
		EntryPoint:  render(pages[c.name], "layout", data),
		Description: render(readmeTmpl, "README.md.tmpl", data),
		License:     render(licenseTmpl, "LICENSE.tmpl", data),
	}
}

func classify(brief string) category {
	lower := strings.ToLower(brief)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c
			}
		}
	}
	return fallback
}

// render executes an embedded template; the templates are static so an
// execution error is a programming bug.
func render(t *template.Template, name string, data pageData) string {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		panic("catalog: render " + name + ": " + err.Error())
	}
	return buf.String()
}
