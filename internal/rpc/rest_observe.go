package rpc

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/alphabill-org/ledgercore/internal/metrics"
)

/*
instrumentHTTP is http middleware which instruments the incoming handler with
two metrics per route:
  - rest/<route>/calls: how many times the endpoint has been called;
  - rest/<route>/duration: how long it took to serve the request.

Responses with status code 400 and above are additionally counted as
rest/<route>/errors.
*/
func instrumentHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		name := "unknown"
		if route := mux.CurrentRoute(req); route != nil {
			if path, err := route.GetPathTemplate(); err != nil {
				log.Warning("reading route path: %v", err)
			} else {
				name = routeMetricName(path)
			}
		}

		start := time.Now()
		rsp := newStatusResponseWriter(w)
		next.ServeHTTP(rsp, req)

		metrics.GetOrRegisterCounter("rest/" + name + "/calls").Inc(1)
		metrics.GetOrRegisterTimer("rest/" + name + "/duration").Since(start)
		if rsp.statusCode >= http.StatusBadRequest {
			metrics.GetOrRegisterCounter("rest/" + name + "/errors").Inc(1)
		}
	})
}

// routeMetricName turns "/api/v1/blocks/{hash}" into "blocks_hash".
func routeMetricName(path string) string {
	path = strings.TrimPrefix(path, "/api/v1/")
	return strings.NewReplacer("/", "_", "{", "", "}", "").Replace(path)
}

/*
statusResponseWriter is a http.ResponseWriter wrapper which allows to capture
status code of the response.
*/
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

func newStatusResponseWriter(w http.ResponseWriter) *statusResponseWriter {
	return &statusResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (mw *statusResponseWriter) WriteHeader(statusCode int) {
	mw.ResponseWriter.WriteHeader(statusCode)

	if !mw.headerWritten {
		mw.statusCode = statusCode
		mw.headerWritten = true
	}
}

func (mw *statusResponseWriter) Write(b []byte) (int, error) {
	mw.headerWritten = true
	return mw.ResponseWriter.Write(b)
}

func (mw *statusResponseWriter) Unwrap() http.ResponseWriter {
	return mw.ResponseWriter
}
