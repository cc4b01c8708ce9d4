package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"inquiryrelay/internal/relay"
	logx "inquiryrelay/pkg/logx"
)

// Relay is the part of the relay client the API drives.
type Relay interface {
	Enqueue(ctx context.Context, p relay.Payload) (*relay.Pending, error)
	Health(ctx context.Context) relay.Health
}

// MetricsProvider instruments routes and serves the exposition endpoint.
type MetricsProvider interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

type okResponse struct {
	OK     bool   `json:"ok"`
	ID     string `json:"id"`
	Status string `json:"status"` // "sent" or "queued"
}

type errorBody struct {
	Kind            relay.Kind `json:"kind"`
	Message         string     `json:"message"`
	Fields          []string   `json:"fields,omitempty"`
	FallbackContact string     `json:"fallback_contact,omitempty"`
}

type errorResponse struct {
	OK    bool      `json:"ok"`
	Error errorBody `json:"error"`
}

type healthResponse struct {
	OK    bool         `json:"ok"`
	Relay relay.Health `json:"relay"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type handler struct {
	cfg     Config
	relay   Relay
	metrics MetricsProvider
	limiter *rate.Limiter
	log     logx.Logger
}

func newHandler(cfg Config, deps Deps, log logx.Logger) *handler {
	cfg = cfg.withDefaults()
	h := &handler{cfg: cfg, relay: deps.Relay, metrics: deps.Metrics, log: log}
	if cfg.RatePerMinute > 0 {
		// Bursts up to the per-minute budget, refilled evenly.
		h.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute)
	}
	return h
}

func (h *handler) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}
	r.Use(h.cors)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if h.metrics != nil && h.cfg.Metrics {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", h.handleHealth)
		api.Post("/inquiries", h.handleInquiry)
		api.Post("/messages", h.handleMessage)
	})
	return r
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	hs := h.relay.Health(r.Context())
	status := http.StatusOK
	ok := hs.Configured && !hs.Stopped
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{OK: ok, Relay: hs})
}

func (h *handler) handleInquiry(w http.ResponseWriter, r *http.Request) {
	var rec relay.InquiryRecord
	if !h.decode(w, r, &rec) {
		return
	}
	h.deliver(w, r, relay.Structured(rec))
}

func (h *handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.writeError(w, r, http.StatusUnprocessableEntity, &relay.Error{Kind: relay.KindInvalidInput, Fields: []string{"text"}})
		return
	}
	h.deliver(w, r, relay.Plain(req.Text))
}

// decode applies the submission limit and body cap, then parses JSON.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if h.limiter != nil && !h.limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		h.writeError(w, r, http.StatusTooManyRequests, &relay.Error{Kind: relay.KindRateLimited})
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, &relay.Error{Kind: relay.KindMessageTooLong, Err: err})
			return false
		}
		h.writeError(w, r, http.StatusBadRequest, &relay.Error{Kind: relay.KindInvalidInput, Err: err})
		return false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		h.writeError(w, r, http.StatusBadRequest, &relay.Error{Kind: relay.KindInvalidInput, Err: errors.New("trailing data after JSON body")})
		return false
	}
	return true
}

// deliver queues p detached from the request so a closed browser tab does not
// drop the inquiry, then waits up to WaitTimeout for the outcome.
func (h *handler) deliver(w http.ResponseWriter, r *http.Request, p relay.Payload) {
	pend, err := h.relay.Enqueue(context.WithoutCancel(r.Context()), p)
	if err != nil {
		h.writeError(w, r, statusFor(err), err)
		return
	}

	t := time.NewTimer(h.cfg.WaitTimeout)
	defer t.Stop()
	select {
	case <-pend.Done():
		if err := pend.Wait(context.Background()); err != nil {
			h.writeError(w, r, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true, ID: pend.ID(), Status: "sent"})
	case <-t.C:
		writeJSON(w, http.StatusAccepted, okResponse{OK: true, ID: pend.ID(), Status: "queued"})
	case <-r.Context().Done():
		h.log.Debug("client went away before delivery settled", logx.String("id", pend.ID()))
		w.WriteHeader(http.StatusRequestTimeout)
	}
}

// statusFor maps a relay failure to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrQueueFull), errors.Is(err, relay.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	switch relay.KindOf(err) {
	case relay.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case relay.KindMessageTooLong:
		return http.StatusRequestEntityTooLarge
	case relay.KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := errorBody{FallbackContact: h.cfg.FallbackContact}
	var re *relay.Error
	switch {
	case errors.As(err, &re):
		body.Kind = re.Kind
		body.Message = re.Error()
		body.Fields = re.Fields
	case errors.Is(err, relay.ErrQueueFull), errors.Is(err, relay.ErrStopped):
		body.Kind = relay.KindServerUnavailable
		body.Message = (&relay.Error{Kind: relay.KindServerUnavailable}).Error()
	default:
		body.Kind = relay.KindUnknown
		body.Message = (&relay.Error{Kind: relay.KindUnknown}).Error()
	}

	fields := []logx.Field{
		logx.String("request_id", middleware.GetReqID(r.Context())),
		logx.String("path", r.URL.Path),
		logx.Int("status", status),
		logx.String("kind", string(body.Kind)),
	}
	if re != nil {
		fields = append(fields, logx.String("detail", re.Detail()))
	} else {
		fields = append(fields, logx.Err(err))
	}
	if status >= 500 {
		h.log.Warn("submission failed", fields...)
	} else {
		h.log.Debug("submission rejected", fields...)
	}
	writeJSON(w, status, errorResponse{OK: false, Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// cors answers preflights and tags responses for allowed origins. Requests
// from other origins are served without CORS headers; the browser blocks them.
func (h *handler) cors(next http.Handler) http.Handler {
	wildcard := slices.Contains(h.cfg.AllowedOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !(wildcard || slices.Contains(h.cfg.AllowedOrigins, origin)) {
			next.ServeHTTP(w, r)
			return
		}
		hdr := w.Header()
		hdr.Add("Vary", "Origin")
		hdr.Set("Access-Control-Allow-Origin", origin)
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			hdr.Set("Access-Control-Allow-Headers", "Content-Type")
			hdr.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
