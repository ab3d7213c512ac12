package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteFinder returns the route pattern that served r, or "" when the
// request did not match a route. It is only meaningful after the router
// has handled the request.
type RouteFinder func(r *http.Request) string

// ChiRoute reads the matched pattern from the chi routing context. Use it
// from middleware registered with chi.Router.Use.
func ChiRoute(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
