package structures

import "net/http"

// Route binds one method and path to a handler.
type Route struct {
	Method  string
	Url     string
	Handler http.Handler
}

// Pattern is the ServeMux pattern for the route, e.g. "GET /sessions".
func (r Route) Pattern() string {
	return r.Method + " " + r.Url
}
