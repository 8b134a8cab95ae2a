package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liveconcierge/concierge/internal/concierge"
	"github.com/liveconcierge/concierge/internal/config"
	"github.com/liveconcierge/concierge/pkg/logger"
)

// Router assembles the HTTP surface: REST handlers, the voice WebSocket
// bridge and static widget assets.
type Router struct {
	handler       *Handler
	voiceHandlers *VoiceHandlers
	config        *config.Config
	logger        *logger.Logger
}

// NewRouter creates the API router.
func NewRouter(service *concierge.Service, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler:       NewHandler(service, log),
		voiceHandlers: NewVoiceHandlers(service, log),
		config:        cfg,
		logger:        log.Named("router"),
	}
}

// Routes builds the chi route tree.
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)
	r.Use(rt.corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.Health)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", rt.handler.ListAgents)
			r.Post("/", rt.handler.CreateAgent)
			r.Get("/{agentID}", rt.handler.GetAgent)
			r.Put("/{agentID}", rt.handler.UpdateAgent)
			r.Delete("/{agentID}", rt.handler.DeleteAgent)
			r.Get("/{agentID}/voice", rt.voiceHandlers.VoiceSession)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", rt.handler.CreateSession)
			r.Get("/{sessionID}", rt.handler.GetSession)
			r.Post("/{sessionID}/messages", rt.handler.PostMessage)
			r.Delete("/{sessionID}", rt.handler.EndSession)
		})
	})

	// Everything else is widget assets.
	r.NotFound(NewStaticFileHandler(rt.config.Server.StaticFilesDir, rt.logger).ServeHTTP)

	return r
}

// requestLogger logs completed requests at debug level.
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rt.logger.Debug("Request completed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)))
	})
}

// corsMiddleware applies the configured CORS policy.
func (rt *Router) corsMiddleware(next http.Handler) http.Handler {
	allowed := rt.config.Server.CORSAllowedOrigins
	allowAll := len(allowed) == 0
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				for _, o := range allowed {
					if o == origin {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						w.Header().Set("Vary", "Origin")
						break
					}
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
