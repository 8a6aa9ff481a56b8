package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dyike/cortexdesk/internal/logging"
)

// StatusFunc reports what /health returns besides "ok".
type StatusFunc func() map[string]any

// HealthServer answers GET /health with a JSON status document.
type HealthServer struct {
	port   int
	status StatusFunc
	logger *logging.Logger
}

func NewHealthServer(port int, status StatusFunc, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &HealthServer{port: port, status: status, logger: logger.With("component", "health")}
}

func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		doc := map[string]any{}
		if s.status != nil {
			for k, v := range s.status() {
				doc[k] = v
			}
		}
		doc["status"] = "ok"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	})
	return mux
}

// Serve blocks until ctx is done.
func (s *HealthServer) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("health check available", "url", fmt.Sprintf("http://localhost:%d/health", s.port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
