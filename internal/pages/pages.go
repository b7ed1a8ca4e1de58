// Package pages renders the HTML pages the server synthesizes itself:
// directory listings, the status page and short error/redirect pages.
package pages

import (
	"embed"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/oils-for-unix/wwz/internal/listing"
	"github.com/oils-for-unix/wwz/internal/trace"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed templates/wwz.css
var stylesheet []byte

var tmpl = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// CSS returns the listing/status stylesheet served at -wwz-css.
func CSS() []byte {
	return stylesheet
}

// Listing 是目录列表页的模板数据。
type Listing struct {
	Title        string
	CSSURL       string
	StatusURL    string
	Outside      listing.Crumb
	Inside       listing.Crumb
	Files        []string
	Dirs         []string
	HasIndexHTML bool
}

// EnvVar is one row of the status page environment table.
type EnvVar struct {
	Key   string
	Value string
}

// Status 是状态页的模板数据。
type Status struct {
	Title        string
	CSSURL       string
	Worker       string
	Now          string
	Requests     int64
	OpenArchives []string
	Traces       [][]trace.Event
	Env          []EnvVar
}

// RenderListing writes a directory listing page.
func RenderListing(w io.Writer, data Listing) error {
	return tmpl.ExecuteTemplate(w, "listing", data)
}

// RenderStatus writes the process status page.
func RenderStatus(w io.Writer, data Status) error {
	return tmpl.ExecuteTemplate(w, "status", data)
}

// RenderMessage 输出 “wwz: 404 Not Found” 形式的简短页面，message 会被转义。
func RenderMessage(w io.Writer, status int, message string) error {
	return tmpl.ExecuteTemplate(w, "message", struct {
		Status  string
		Message string
	}{
		Status:  strconv.Itoa(status) + " " + http.StatusText(status),
		Message: message,
	})
}
