package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

const contentPrefix = "/api/content"

// newContentProxy forwards /api/content/* to baseURL with the prefix
// removed. An empty baseURL yields a handler answering 503.
func (s *Server) newContentProxy(baseURL string) (http.Handler, error) {
	if baseURL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "Content service is not configured.", "")
		}), nil
	}

	target, err := url.Parse(baseURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid content base URL %q", baseURL)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Cookie")
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Content proxy failed")
			writeError(w, http.StatusBadGateway, "Content service is unavailable.", internalSummary)
		},
	}

	return http.StripPrefix(contentPrefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/") {
			r.URL.Path = "/" + r.URL.Path
		}
		proxy.ServeHTTP(w, r)
	})), nil
}
