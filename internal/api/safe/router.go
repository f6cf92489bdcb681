package safe

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router registers routes on a gin router. Every handler and middleware
// passing through it is wrapped, so a registrar holding only a Router
// cannot mount an unprotected handler.
type Router struct {
	r gin.IRouter
}

// NewRouter wraps r.
func NewRouter(r gin.IRouter) *Router {
	return &Router{r: r}
}

// Use adds wrapped middleware to the router.
func (rt *Router) Use(middleware ...gin.HandlerFunc) *Router {
	rt.r.Use(wrapAll(middleware)...)
	return rt
}

// Group creates a sub-router with wrapped middleware.
func (rt *Router) Group(path string, middleware ...gin.HandlerFunc) *Router {
	return &Router{r: rt.r.Group(path, wrapAll(middleware)...)}
}

func (rt *Router) GET(path string, handlers ...Handler) {
	rt.Handle(http.MethodGet, path, handlers...)
}

func (rt *Router) POST(path string, handlers ...Handler) {
	rt.Handle(http.MethodPost, path, handlers...)
}

func (rt *Router) PUT(path string, handlers ...Handler) {
	rt.Handle(http.MethodPut, path, handlers...)
}

func (rt *Router) PATCH(path string, handlers ...Handler) {
	rt.Handle(http.MethodPatch, path, handlers...)
}

func (rt *Router) DELETE(path string, handlers ...Handler) {
	rt.Handle(http.MethodDelete, path, handlers...)
}

// Any registers the handlers for every method gin knows.
func (rt *Router) Any(path string, handlers ...Handler) {
	rt.r.Any(path, handleAll(handlers)...)
}

// Handle registers handlers for an arbitrary method.
func (rt *Router) Handle(method, path string, handlers ...Handler) {
	rt.r.Handle(method, path, handleAll(handlers)...)
}

func handleAll(hs []Handler) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, Handle(h))
		}
	}
	return out
}

func wrapAll(hs []gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, Wrap(h))
		}
	}
	return out
}
