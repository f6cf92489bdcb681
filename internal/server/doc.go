// Package server bootstraps the HTTP application shared by every backend
// variant.
//
// A request passes through the layers in a fixed order:
//
//  1. error boundary (outermost), tracing, access log, metrics, CORS and
//     rate limiting
//  2. JSON body parsing
//  3. authentication, which owns /login, /logout and /callback
//  4. / and /callback: a redirect to the dev server in development, the
//     index document in production
//  5. the mounted routes, registered through a safe.Router
//  6. static files from the assets directory
//  7. the fallback: a plain-text 404 in development, the index document in
//     production
//
// Any error or panic from layers 2 to 7 that did not already produce a
// response is answered by the boundary with 500 and a generic JSON body.
package server
