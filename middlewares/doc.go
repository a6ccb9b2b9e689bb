// Package middlewares provides named route middleware for trellis apps.
//
// Middleware is registered under a name and attached to routes with a
// "#name" flag, or to every route with Use:
//
//	app.Middleware("requestid", middlewares.RequestID())
//	app.Middleware("language", middlewares.Language([]string{"en", "de"}))
//	app.Middleware("limit", middlewares.RateLimit(5, 10))
//	app.Use("requestid")
//
//	app.POST("/api/login", login, "json", "#limit")
//
// # Request ID
//
// RequestID keeps an upstream X-Request-ID or generates a UUID, stores it in
// the controller and echoes it in the response. RequestIDExtractor adds it to
// log records written with the controller as context:
//
//	log := logger.New(logger.WithExtractors(middlewares.RequestIDExtractor()))
//
// # Language
//
// Language resolves the request language from a cookie, the "lang" query
// parameter or Accept-Language; read it back with GetLanguage.
//
// # Rate limit
//
// RateLimit applies a token bucket per client key (the client IP by default)
// and answers 429 with Retry-After when a client runs dry.
package middlewares
