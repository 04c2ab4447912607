package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const (
	msgEmptyBody         = "Request body is empty."
	msgInvalidParameters = "Invalid parameters."
	msgRequired          = "This field is required."
)

// fieldErrors is rendered as {"field": ["message", ...]} with status 422.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, format string, args ...any) {
	f[field] = append(f[field], fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func notFound(w http.ResponseWriter) {
	writeMessage(w, http.StatusNotFound, "Not found.")
}

func forbidden(w http.ResponseWriter) {
	writeMessage(w, http.StatusForbidden, "Forbidden.")
}

// readForm parses a url-encoded body, rejecting keys outside allowed.
func readForm(w http.ResponseWriter, r *http.Request, allowed ...string) (url.Values, bool) {
	if err := r.ParseForm(); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	known := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		known[k] = struct{}{}
	}
	for k := range r.PostForm {
		if _, ok := known[k]; !ok {
			writeMessage(w, http.StatusBadRequest, msgInvalidParameters)
			return nil, false
		}
	}
	return r.PostForm, true
}

// absoluteURL builds the Location of a created resource.
func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: path}
	return u.String()
}
