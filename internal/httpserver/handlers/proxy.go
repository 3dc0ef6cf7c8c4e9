package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/moor/internal/domain"
	"github.com/MrSnakeDoc/moor/internal/httpserver/deps"
	"github.com/MrSnakeDoc/moor/internal/ledger"
	"github.com/MrSnakeDoc/moor/internal/logger"
)

// Proxy forwards /{service}/* to the service's assigned localhost port.
// The upstream response (status, headers, body) is relayed verbatim.
func Proxy(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "service")

		snap, err := d.Registry.Snapshot(name)
		if err != nil {
			// Caller configuration error, not a service failure: no
			// ledger entry.
			writeError(w, http.StatusNotFound, "unknown service: "+name)
			return
		}

		if snap.Status != domain.StatusRunning {
			d.Ledger.Append(ledger.ActionProxyError, name,
				fmt.Sprintf("request while %s", snap.Status))
			writeError(w, http.StatusServiceUnavailable,
				fmt.Sprintf("service %s is %s", name, snap.Status))
			return
		}

		ok, retryAfter := d.Limiter.Allow(name, snap.RateLimitPerMinute)
		if !ok {
			d.Ledger.Append(ledger.ActionRateLimited, name, r.Method+" "+r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		forward(d, name, snap.AssignedPort).ServeHTTP(w, r)
	}
}

// forward builds the reverse proxy for one admitted request. The
// service-name prefix is stripped so upstreams see their own paths.
func forward(d deps.Deps, name string, port int) http.Handler {
	target := &url.URL{
		Scheme: "http",
		Host:   "127.0.0.1:" + strconv.Itoa(port),
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = stripServicePrefix(pr.In.URL.Path, name)
			pr.Out.URL.RawPath = ""
			pr.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if r.Context().Err() == context.DeadlineExceeded {
				d.Ledger.Append(ledger.ActionProxyError, name, "upstream timeout")
				d.Logger.Warn("upstream timed out",
					logger.String("service", name),
					logger.Int("port", port))
				writeError(w, http.StatusGatewayTimeout,
					domain.ErrUpstreamTimeout.Error())
				return
			}
			d.Ledger.Append(ledger.ActionProxyError, name, err.Error())
			d.Logger.Warn("proxy error",
				logger.String("service", name),
				logger.Int("port", port),
				logger.Error(err))
			writeError(w, http.StatusBadGateway, "upstream error")
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d.ProxyTimeout)
		defer cancel()
		rp.ServeHTTP(w, r.WithContext(ctx))
	})
}

func stripServicePrefix(path, name string) string {
	trimmed := strings.TrimPrefix(path, "/"+name)
	if trimmed == "" {
		return "/"
	}
	return trimmed
}
