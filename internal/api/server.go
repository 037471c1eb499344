package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/mtlprog/tokenize/internal/deployment"
	"github.com/mtlprog/tokenize/internal/metrics"
)

// writeMargin covers encoding the result after a deployment reaches its deadline.
const writeMargin = 30 * time.Second

// NewServer creates an HTTP server with all routes configured. collector may be nil.
// POST /api/v1/deployments blocks for up to deployTimeout, so the write timeout follows it.
func NewServer(port string, deployments *deployment.Service, collector *metrics.Collector, adminAPIKey string, deployTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      NewRouter(deployments, collector, adminAPIKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: deployTimeout + writeMargin,
		IdleTimeout:  60 * time.Second,
	}
}

// NewRouter builds the API routes.
func NewRouter(deployments *deployment.Service, collector *metrics.Collector, adminAPIKey string) http.Handler {
	handler := NewHandler(deployments)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/v1/tokenomics/quote", handler.Quote)
	mux.HandleFunc("GET /api/v1/deployments/{id}", handler.GetDeployment)
	mux.HandleFunc("GET /api/v1/deployments", handler.ListDeployments)

	deployHandler := http.HandlerFunc(handler.CreateDeployment)
	if adminAPIKey != "" {
		mux.Handle("POST /api/v1/deployments", requireAuth(adminAPIKey, deployHandler))
	} else {
		mux.Handle("POST /api/v1/deployments", deployHandler)
	}

	if collector == nil {
		return mux
	}
	mux.Handle("GET /metrics", collector.Handler())
	return collector.Instrument(mux)
}

func requireAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
