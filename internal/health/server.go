package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/offlinesync/internal/connectivity"
	"github.com/vietddude/offlinesync/internal/coordinator"
	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/pkg/httputil"
	"github.com/vietddude/offlinesync/internal/queue"
)

var queueErrors = []httputil.ErrorMapping{
	{Error: queue.ErrItemNotFound, Status: http.StatusNotFound},
	{Error: queue.ErrItemProcessing, Status: http.StatusConflict},
}

// Server provides HTTP endpoints for health monitoring and queue administration.
type Server struct {
	monitor      *Monitor
	connectivity *connectivity.Monitor
	queue        *queue.Queue
	coordinator  *coordinator.Coordinator
	server       *http.Server
	log          *slog.Logger
}

// NewServer creates a new admin server listening on port.
func NewServer(
	monitor *Monitor,
	conn *connectivity.Monitor,
	q *queue.Queue,
	coord *coordinator.Coordinator,
	port int,
) *Server {
	s := &Server{
		monitor:      monitor,
		connectivity: conn,
		queue:        q,
		coordinator:  coord,
		log:          slog.Default().With("component", "admin"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes returns the admin router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/health/detailed", s.handleDetailed)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/connectivity", s.handleGetConnectivity)
	r.Put("/connectivity", s.handleSetConnectivity)

	r.Post("/actions", s.handleSubmitAction)
	r.Post("/sync", s.handleSync)

	r.Route("/queue", func(r chi.Router) {
		r.Delete("/", s.handleClearQueue)
		r.Get("/stats", s.handleQueueStats)
		r.Get("/items", s.handleListItems)
		r.Get("/items/{id}", s.handleGetItem)
		r.Delete("/items/{id}", s.handleRemoveItem)
		r.Post("/items/{id}/retry", s.handleRetryItem)
		r.Post("/retry-failed", s.handleRetryFailed)
		r.Post("/clear-failed", s.handleClearFailed)
	})
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	status := http.StatusOK
	if report.SystemStatus == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

type connectivityResponse struct {
	State      domain.ConnectivityState `json:"state"`
	Connected  bool                     `json:"connected"`
	LastChange time.Time                `json:"last_change"`
	Changed    *bool                    `json:"changed,omitempty"`
}

func (s *Server) connectivityView() connectivityResponse {
	return connectivityResponse{
		State:      s.connectivity.CurrentState(),
		Connected:  s.connectivity.IsConnected(),
		LastChange: s.connectivity.LastChange(),
	}
}

func (s *Server) handleGetConnectivity(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, s.connectivityView())
}

type setConnectivityRequest struct {
	State string `json:"state"`
}

// handleSetConnectivity is the manual override used when no prober runs.
func (s *Server) handleSetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req setConnectivityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := domain.ParseConnectivityState(req.State)
	if err != nil {
		httputil.ValidationError(w, err)
		return
	}

	changed := s.connectivity.Update(state)
	resp := s.connectivityView()
	resp.Changed = &changed
	httputil.Success(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	var env domain.ActionEnvelope
	if err := httputil.DecodeJSON(r, &env); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action, err := domain.DecodeAction(env)
	if err != nil {
		httputil.ValidationError(w, err)
		return
	}

	res, err := s.coordinator.ExecuteOrQueue(r.Context(), action)
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidAction) {
			httputil.ValidationError(w, err)
			return
		}
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	status := http.StatusOK
	if !res.Executed {
		status = http.StatusAccepted
	}
	httputil.Success(w, status, res)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	processed := s.coordinator.ForceSyncNow(r.Context())
	httputil.Success(w, http.StatusOK, map[string]any{
		"processed": processed,
		"state":     s.connectivity.CurrentState(),
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, s.queue.Stats())
}

// handleListItems returns items in dequeue order, optionally filtered by
// ?status=pending|processing|failed.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items := s.queue.GetAll()

	if status := r.URL.Query().Get("status"); status != "" {
		want := domain.QueueItemStatus(status)
		switch want {
		case domain.QueueItemStatusPending, domain.QueueItemStatusProcessing, domain.QueueItemStatusFailed:
		default:
			httputil.Error(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", status))
			return
		}
		filtered := items[:0]
		for _, item := range items {
			if item.Status() == want {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	httputil.Success(w, http.StatusOK, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.queue.Get(chi.URLParam(r, "id"))
	if !ok {
		httputil.HandleError(r.Context(), w, queue.ErrItemNotFound, queueErrors)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if !s.queue.Remove(r.Context(), chi.URLParam(r, "id")) {
		httputil.HandleError(r.Context(), w, queue.ErrItemNotFound, queueErrors)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.queue.RetryItem(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, queueErrors)
		return
	}
	item, _ := s.queue.Get(id)
	httputil.Success(w, http.StatusOK, item)
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, map[string]int{"count": s.queue.RetryFailed(r.Context())})
}

func (s *Server) handleClearFailed(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, map[string]int{"count": s.queue.ClearFailed(r.Context())})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, map[string]int{"count": s.queue.Clear(r.Context())})
}
