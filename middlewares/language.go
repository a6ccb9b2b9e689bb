package middlewares

import (
	"strings"

	"github.com/ndtt/trellis/internal"
)

// LanguageKey is the controller repository key holding the resolved language.
const LanguageKey = "language"

// LanguageOption configures the Language middleware.
type LanguageOption func(*languageConfig)

type languageConfig struct {
	extractor    internal.Extractor
	extractorSet bool
	cookie       string
}

// WithLanguageExtractor replaces the sources read before Accept-Language.
func WithLanguageExtractor(ext internal.Extractor) LanguageOption {
	return func(cfg *languageConfig) {
		cfg.extractor = ext
		cfg.extractorSet = true
	}
}

// WithLanguageCookie sets the cookie holding an explicit choice. Default: "lang".
func WithLanguageCookie(name string) LanguageOption {
	return func(cfg *languageConfig) {
		cfg.cookie = name
	}
}

// Language returns middleware that resolves the request language against
// available: an explicit choice from the cookie or the "lang" query
// parameter first, then the best Accept-Language match. The first available
// language is the fallback. The result is stored under LanguageKey and the
// response varies on Accept-Language.
//
//	app.Middleware("language", middlewares.Language([]string{"en", "de", "uk"}))
//	app.GET("/", home, "#language")
func Language(available []string, opts ...LanguageOption) internal.MiddlewareFunc {
	cfg := &languageConfig{cookie: "lang"}
	for _, opt := range opts {
		opt(cfg)
	}
	if !cfg.extractorSet {
		cfg.extractor = internal.NewExtractor(
			internal.FromCookie(cfg.cookie),
			internal.FromQuery("lang"),
		)
	}

	return func(req *internal.Request, res *internal.Response, _ internal.NextFunc, _ map[string]any, c *internal.Controller) internal.Flow {
		lang := ""
		if v, ok := cfg.extractor.Extract(req); ok {
			lang = match(v, available)
		}
		if lang == "" && len(available) > 0 {
			lang = req.Language(available...)
		}
		if lang == "" {
			lang = req.Language()
		}

		c.Set(LanguageKey, lang)
		res.Header().Add("Vary", "Accept-Language")
		return internal.Proceed
	}
}

// GetLanguage returns the resolved language, or "" when the middleware did
// not run.
func GetLanguage(c *internal.Controller) string {
	if v, ok := c.Get(LanguageKey).(string); ok {
		return v
	}
	return ""
}

// match returns the available entry equal to v ignoring case, or "".
// An empty list accepts any value.
func match(v string, available []string) string {
	if len(available) == 0 {
		return v
	}
	for _, a := range available {
		if strings.EqualFold(a, v) {
			return a
		}
	}
	return ""
}
