package httpx

import (
	"log/slog"
	"net/http"

	"github.com/countyops/countysync/internal/plugin"
	"github.com/countyops/countysync/internal/ports"
	"github.com/countyops/countysync/internal/service"
)

// RouterServices holds the services needed by the HTTP router.
type RouterServices struct {
	Orchestrator *service.Orchestrator
	Registry     *plugin.Registry
	Resolver     ports.IdentityResolver
	Logger       *slog.Logger
}

// NewRouter creates and configures the HTTP router. Plugin job routes sit
// behind identity resolution; the health endpoints do not.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	handlers := &PluginHandlers{
		Orchestrator: services.Orchestrator,
		Registry:     services.Registry,
	}

	requireIdentity := RequireIdentity(services.Resolver)
	authed := func(h http.HandlerFunc) http.Handler {
		return requireIdentity(h)
	}

	mux.Handle("POST /plugins/v1/{plugin}/run", authed(handlers.Run))
	mux.Handle("GET /plugins/v1/{plugin}/status/{job_id}", authed(handlers.Status))
	mux.Handle("GET /plugins/v1/{plugin}/result/{job_id}", authed(handlers.Result))
	mux.Handle("POST /plugins/v1/{plugin}/cancel/{job_id}", authed(handlers.Cancel))
	mux.Handle("GET /plugins/v1/{plugin}/jobs", authed(handlers.ListJobs))

	mux.HandleFunc("GET /plugins/v1/{plugin}/health", handlers.PluginHealth)
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return Recover(logger)(Logging(logger)(mux))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
