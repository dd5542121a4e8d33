package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForStream wraps a compression middleware so the multipart
// feed and raw media files bypass it. The feed needs every part flushed as
// written, and JPEG bytes do not compress.
func SkipCompressionForStream(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/stream" || strings.HasPrefix(r.URL.Path, "/media/") {
				next.ServeHTTP(w, r)
				return
			}

			compressedHandler.ServeHTTP(w, r)
		})
	}
}
