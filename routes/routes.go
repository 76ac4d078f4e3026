package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"

	"github.com/EllectronChik/server7x/handlers"
	"github.com/EllectronChik/server7x/realtime"
)

// Пути, которые ожидают клиенты фронтенда.
var topicPaths = map[string]string{
	realtime.TopicMatch:   "/ws/match",
	realtime.TopicManager: "/ws/tournament_status",
	realtime.TopicAdmin:   "/ws/tournaments_admin",
	realtime.TopicGroups:  "/ws/groups",
	realtime.TopicInfo:    "/ws/information",
}

// TopicPath returns the URL path clients use to reach a topic.
func TopicPath(name string) (string, bool) {
	p, ok := topicPaths[name]
	return p, ok
}

type Options struct {
	CORSAllowedOrigins []string
	// RateLimit wraps the websocket upgrade endpoints; nil disables it.
	RateLimit func(http.Handler) http.Handler
	Metrics   http.Handler
}

func SetupRoutes(
	router chi.Router,
	wsHandler *handlers.WebSocketHandler,
	healthHandler *handlers.HealthHandler,
	topics []realtime.Topic,
	opts Options,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(chiMiddleware.StripSlashes)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.MethodNotAllowed)

	router.Get("/healthz", healthHandler.Health)
	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	router.Group(func(r chi.Router) {
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}
		for _, topic := range topics {
			path, ok := topicPaths[topic.Name()]
			if !ok {
				path = "/ws/" + topic.Name()
			}
			r.Get(path, wsHandler.ServeWs(topic))
		}
	})
}
