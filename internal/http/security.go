package http

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/unrolled/secure"
)

// CORS allows any origin, which is what a local dev server wants.
func CORS() func(http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPut,
			http.MethodPatch,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
	})
	return middleware.Handler
}

// SecurityHeaders sets the usual hardening headers on every response.
func SecurityHeaders() func(http.Handler) http.Handler {
	middleware := secure.New(secure.Options{
		CustomFrameOptionsValue: "SAMEORIGIN",
		ContentTypeNosniff:      true,
		BrowserXssFilter:        true,
		ReferrerPolicy:          "no-referrer",
		STSSeconds:              15552000,
		STSIncludeSubdomains:    true,
	})
	return middleware.Handler
}
