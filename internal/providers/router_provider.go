package providers

import (
	"charsync/internal/structures"
	"net/http"
)

type RouterProviderInterface interface {
	Get(url string, handler http.Handler)
	Post(url string, handler http.Handler)
	GetRoutes() []structures.Route
	Handler() http.Handler
}

type RouterProvider struct {
	routes []structures.Route
}

func (rp *RouterProvider) Get(url string, handler http.Handler) {
	rp.add(http.MethodGet, url, handler)
}

func (rp *RouterProvider) Post(url string, handler http.Handler) {
	rp.add(http.MethodPost, url, handler)
}

func (rp *RouterProvider) add(method, url string, handler http.Handler) {
	rp.routes = append(rp.routes, structures.Route{
		Method:  method,
		Url:     url,
		Handler: handler,
	})
}

func (rp *RouterProvider) GetRoutes() []structures.Route {
	return rp.routes
}

// Handler builds a mux from the registered routes. The same path may carry
// both a GET and a POST handler; other methods get 405.
func (rp *RouterProvider) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, route := range rp.routes {
		mux.Handle(route.Pattern(), route.Handler)
	}
	return mux
}

func NewRouterProvider() RouterProviderInterface {
	return &RouterProvider{}
}
