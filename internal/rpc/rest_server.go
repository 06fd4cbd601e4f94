package rpc

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/alphabill-org/ledgercore/internal/logger"
	"github.com/alphabill-org/ledgercore/internal/metrics"
)

const (
	headerContentType = "Content-Type"
	applicationJson   = "application/json"
	applicationCBOR   = "application/cbor"

	pathMetrics = "/metrics"

	DefaultMaxBodyBytes int64 = 4194304 // 4MB
)

var log = logger.CreateForPackage()

var allowedCORSHeaders = []string{"Accept", "Accept-Language", "Content-Language", "Origin", headerContentType}

type (
	// Registrar registers new HTTP handlers for given router.
	Registrar interface {
		Register(r *mux.Router)
	}

	// RegistrarFunc type is an adapter to allow the use of ordinary function as Registrar.
	RegistrarFunc func(r *mux.Router)
)

// NewRESTServer returns a server with the registrars' handlers mounted under
// /api/v1. The metrics of the process are served at /api/v1/metrics.
func NewRESTServer(addr string, maxBodySize int64, registrars ...Registrar) *http.Server {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)
	apiV1Router := r.PathPrefix("/api/v1").Subrouter()
	apiV1Router.Use(handlers.CORS(handlers.AllowedHeaders(allowedCORSHeaders)), instrumentHTTP)
	apiV1Router.Handle(pathMetrics, metrics.PrometheusHandler()).Methods(http.MethodGet)

	for _, registrar := range registrars {
		registrar.Register(apiV1Router)
	}

	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodyBytes
	}
	return &http.Server{
		Addr:              addr,
		ReadTimeout:       3 * time.Second,
		ReadHeaderTimeout: time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       30 * time.Second,
		Handler:           http.MaxBytesHandler(r, maxBodySize),
	}
}

func (f RegistrarFunc) Register(r *mux.Router) {
	f(r)
}
