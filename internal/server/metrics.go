package server

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ayd_http_requests_total",
	Help: "Total number of HTTP requests.",
}, []string{"code", "method", "path"})

// basePath returns the first segment of a path so
// that labels don't grow with the number of packages.
func basePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return "/" + p
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}
