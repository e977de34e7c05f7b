package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/conneroisu/docpress/internal/config"
	"github.com/conneroisu/docpress/internal/errors"
	"github.com/conneroisu/docpress/internal/logging"
	"github.com/conneroisu/docpress/internal/validation"
)

// SecurityConfig holds the response headers and request checks applied to
// every route.
type SecurityConfig struct {
	// CSP covers the viewer page and the API.
	CSP *CSPConfig
	// PreviewCSP covers /preview/. Documents may pull fonts and images from
	// anywhere, so it is looser than CSP.
	PreviewCSP *CSPConfig

	XFrameOptions       string
	XContentTypeNoSniff bool
	ReferrerPolicy      string
	// AllowedOrigins are the hosts or full origins state-changing requests may
	// come from, in addition to the request's own host.
	AllowedOrigins []string
	Logger         logging.Logger
}

// CSPConfig holds Content Security Policy configuration
type CSPConfig struct {
	DefaultSrc     []string
	ScriptSrc      []string
	StyleSrc       []string
	ImgSrc         []string
	ConnectSrc     []string
	FontSrc        []string
	ObjectSrc      []string
	FrameSrc       []string
	FrameAncestors []string
	BaseURI        []string
	FormAction     []string
}

// DefaultSecurityConfig returns the configuration used for local previewing.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		CSP: &CSPConfig{
			DefaultSrc:     []string{"'self'"},
			ScriptSrc:      []string{"'self'", "'unsafe-inline'"},
			StyleSrc:       []string{"'self'", "'unsafe-inline'"},
			ImgSrc:         []string{"'self'", "data:", "blob:"},
			ConnectSrc:     []string{"'self'", "ws:", "wss:"},
			FontSrc:        []string{"'self'"},
			ObjectSrc:      []string{"'self'"},
			FrameSrc:       []string{"'self'"},
			FrameAncestors: []string{"'self'"},
			BaseURI:        []string{"'self'"},
			FormAction:     []string{"'self'"},
		},
		PreviewCSP: &CSPConfig{
			DefaultSrc:     []string{"'self'", "https:", "data:", "blob:"},
			ScriptSrc:      []string{"'self'", "'unsafe-inline'"},
			StyleSrc:       []string{"'self'", "'unsafe-inline'", "https:"},
			ConnectSrc:     []string{"'self'", "ws:", "wss:"},
			ObjectSrc:      []string{"'none'"},
			FrameAncestors: []string{"'self'"},
		},
		XFrameOptions:       "SAMEORIGIN",
		XContentTypeNoSniff: true,
		ReferrerPolicy:      "same-origin",
	}
}

// SecurityConfigFromAppConfig creates security config from application config
func SecurityConfigFromAppConfig(cfg *config.Config, logger logging.Logger) *SecurityConfig {
	sc := DefaultSecurityConfig()
	sc.AllowedOrigins = validation.AllowedOriginHosts(cfg.Server.Host, cfg.Server.Port, cfg.Server.AllowedOrigins)
	sc.Logger = logger
	if cfg.Server.Environment == "production" {
		sc.CSP.ScriptSrc = []string{"'self'", "'unsafe-inline'"}
		sc.CSP.ConnectSrc = []string{"'self'", "wss:"}
		sc.ReferrerPolicy = "no-referrer"
	}
	return sc
}

// SecurityMiddleware sets security headers and rejects state-changing
// requests from foreign origins.
func SecurityMiddleware(secConfig *SecurityConfig) func(http.Handler) http.Handler {
	if secConfig == nil {
		secConfig = DefaultSecurityConfig()
	}
	if secConfig.Logger == nil {
		secConfig.Logger = logging.Discard()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			applySecurityHeaders(w, r, secConfig)

			if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions {
				if !isValidOrigin(r, secConfig.AllowedOrigins) {
					secConfig.Logger.Warn(r.Context(),
						errors.NewSecurityError("INVALID_ORIGIN", "Invalid origin in request"),
						"Security: Invalid origin",
						"origin", r.Header.Get("Origin"),
						"referer", r.Header.Get("Referer"),
						"remote", r.RemoteAddr)
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func applySecurityHeaders(w http.ResponseWriter, r *http.Request, config *SecurityConfig) {
	csp := config.CSP
	if strings.HasPrefix(r.URL.Path, "/preview/") && config.PreviewCSP != nil {
		csp = config.PreviewCSP
	}
	if csp != nil {
		w.Header().Set("Content-Security-Policy", buildCSPHeader(csp))
	}

	if config.XFrameOptions != "" {
		w.Header().Set("X-Frame-Options", config.XFrameOptions)
	}
	if config.XContentTypeNoSniff {
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}
	if config.ReferrerPolicy != "" {
		w.Header().Set("Referrer-Policy", config.ReferrerPolicy)
	}
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
}

// buildCSPHeader constructs the Content-Security-Policy header value
func buildCSPHeader(csp *CSPConfig) string {
	var directives []string

	addDirective := func(name string, values []string) {
		if len(values) > 0 {
			directives = append(directives, fmt.Sprintf("%s %s", name, strings.Join(values, " ")))
		}
	}

	addDirective("default-src", csp.DefaultSrc)
	addDirective("script-src", csp.ScriptSrc)
	addDirective("style-src", csp.StyleSrc)
	addDirective("img-src", csp.ImgSrc)
	addDirective("connect-src", csp.ConnectSrc)
	addDirective("font-src", csp.FontSrc)
	addDirective("object-src", csp.ObjectSrc)
	addDirective("frame-src", csp.FrameSrc)
	addDirective("frame-ancestors", csp.FrameAncestors)
	addDirective("base-uri", csp.BaseURI)
	addDirective("form-action", csp.FormAction)

	return strings.Join(directives, "; ")
}

// isValidOrigin accepts requests whose Origin (or Referer) names this server
// or a configured origin. Requests carrying neither header come from
// non-browser clients such as curl and are let through.
func isValidOrigin(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		referer := r.Header.Get("Referer")
		if referer == "" {
			return true
		}
		refererURL, err := url.Parse(referer)
		if err != nil {
			return false
		}
		origin = fmt.Sprintf("%s://%s", refererURL.Scheme, refererURL.Host)
	}

	allowed := append([]string{r.Host}, allowedOrigins...)
	return validation.ValidateOrigin(origin, allowed) == nil
}
