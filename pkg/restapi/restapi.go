// Package restapi implements the §6 REST façade: the synchronous/async
// trade-capture entry point, job-status polling, read-only diagnostics
// for C10/C11/C3, and admin write/delete endpoints over the RulesEngine's
// rule set.
package restapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	apperrors "github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/errors"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/backpressure"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/consumer"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/jobstore"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/pipeline"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/rulesengine"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/sequence"
)

// Deps are every component the façade fronts. It never touches C1/C2/C4/C5
// directly — those are reachable only through the Pipeline — but it does
// read C3's and C11's state for the diagnostics endpoints and C10's pause
// flag for the consumer-group endpoint.
type Deps struct {
	Pipeline      *pipeline.Pipeline
	Jobs          *jobstore.Store
	RateLimiter   *backpressure.RateLimiter
	Admission     *backpressure.AdmissionQueue
	Gate          *sequence.Gate
	Consumer      *consumer.Manager
	ConsumerGroup string
	Rules         *rulesengine.RuleStore
	Logger        *zap.Logger

	// AllowedOrigins configures CORS; an empty slice disables cross-origin
	// access entirely rather than defaulting to a wildcard.
	AllowedOrigins []string
}

// NewRouter builds the chi router exposing every §6 endpoint.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Idempotency-Key", "X-Callback-Url"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &handler{deps: deps}

	r.Route("/trades", func(r chi.Router) {
		r.With(h.admissionControl).Post("/capture", h.captureTrade)
		r.Get("/jobs/{jobId}/status", h.jobStatus)
		r.Delete("/jobs/{jobId}", h.cancelJob)
	})

	r.Get("/backpressure/status", h.backpressureStatus)
	r.Get("/rate-limit/status/{partitionKey}", h.rateLimitStatus)
	r.Get("/consumer-groups/status", h.consumerGroupStatus)
	r.Get("/sequence-buffer/status", h.sequenceBufferStatus)

	r.Route("/rules", func(r chi.Router) {
		r.Post("/{ruleType}", h.putRule)
		r.Delete("/{id}", h.deleteRule)
	})

	return r
}

type handler struct {
	deps Deps
}

// admissionControl rejects a request with 503 once the bounded admission
// queue is full, per §4.11/§6's "503 under admission control".
func (h *handler) admissionControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		release, err := h.deps.Admission.Enter(req.Context())
		if err != nil {
			w.Header().Set("Retry-After", "1")
			writeError(w, apperrors.New(apperrors.ErrorTypeDependencyDown, "admission queue at capacity"))
			return
		}
		defer release()
		next.ServeHTTP(w, req)
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			logger.Info("http request",
				logging.HTTPFields(req.Method, req.URL.Path, ww.Status()).
					Duration(time.Since(start)).ToZap()...)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the façade's uniform error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{}
	body.Error.Code = string(apperrors.GetType(err))
	body.Error.Message = apperrors.SafeErrorMessage(err)
	writeJSON(w, apperrors.GetStatusCode(err), body)
}
