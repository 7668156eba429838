// Package httpapi implements the external HTTP surface of spec.md §6 on
// top of a chi.Router, in the teacher's examples/chi-server idiom
// (logger, recoverer, timeout, CORS middleware chain). It never
// authenticates on its own — every request is handed to an injected
// Authenticator, the out-of-scope external collaborator spec.md §1
// names; a nil or failing Authenticator fails every route closed with
// unauthorized.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatforge/backend/internal/pipeline"
)

// Authenticator is the out-of-scope external collaborator that proves
// request identity; internal/httpapi only consumes the interface.
type Authenticator interface {
	Authenticate(r *http.Request) (userID uuid.UUID, ok bool)
}

// Server bundles the dependencies the route handlers need.
type Server struct {
	Pipeline *pipeline.Pipeline
	Auth     Authenticator
	Logger   zerolog.Logger
}

// Router builds the chi.Router for the whole HTTP surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(zerologMiddleware(s.Logger))
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Use(s.requireAuth)

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/chat/completions/stop", s.handleStop)
	r.Get("/v1/tools", s.handleListTools)
	r.Get("/v1/providers/{providerID}/models", s.handleListProviderModels)

	r.Route("/v1/conversations", func(r chi.Router) {
		r.Post("/", s.handleCreateConversation)
		r.Get("/", s.handleListConversations)
		r.Get("/{conversationID}", s.handleGetConversation)
		r.Delete("/{conversationID}", s.handleDeleteConversation)
		r.Get("/{conversationID}/messages", s.handleListMessages)
		r.Post("/{conversationID}/messages/{messageID}/edit", s.handleEditMessage)
	})

	return r
}

// zerologMiddleware logs one line per request with the fields the rest
// of the pipeline enriches via request-scoped sub-loggers.
func zerologMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
