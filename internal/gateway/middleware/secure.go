package middleware

import "github.com/unrolled/secure"

// SecureHeaders returns middleware that sets browser security response headers.
// isDevelopment disables the HSTS header for plain-HTTP local runs.
func SecureHeaders(isDevelopment bool) Middleware {
	s := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "no-referrer",
		STSSeconds:         31536000,
		IsDevelopment:      isDevelopment,
	})
	return s.Handler
}
