package endpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
)

// JSONRenderer writes Value as a JSON body with Content-Type
// application/json. Status 0 means 200. HTML escaping is off; these bodies
// go to API clients, not into markup.
type JSONRenderer struct {
	Status int
	Value  any
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	status := jr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}

// StringRenderer writes Body verbatim. An empty ContentType means
// "text/plain; charset=utf-8"; the exchange surface uses it to pass
// provider JSON through untouched.
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

func (sr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	ct := sr.ContentType
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	status := sr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if sr.Body == "" {
		return nil
	}
	_, err := w.Write([]byte(sr.Body))
	return err
}

// RedirectRenderer sends the client to URL. Status 0 means 307.
type RedirectRenderer struct {
	URL    string
	Status int
}

func (rr *RedirectRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	status := rr.Status
	if status == 0 {
		status = http.StatusTemporaryRedirect
	}
	http.Redirect(w, r, rr.URL, status)
	return nil
}

// HTMLTemplateRenderer executes an html/template with Values as data.
// Execution is buffered: a template error is returned before anything is
// written, so the wrapper can still produce an error status.
type HTMLTemplateRenderer struct {
	Status   int
	Template *template.Template
	Values   any
}

func (hr *HTMLTemplateRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	if hr.Template == nil {
		return errors.New("endpoint: nil template")
	}
	var buf bytes.Buffer
	if err := hr.Template.Execute(&buf, hr.Values); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	status := hr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
