package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/gamedayhq/gameday/internal/channel"
	"github.com/gamedayhq/gameday/internal/config"
	"github.com/gamedayhq/gameday/internal/database"
	"github.com/gamedayhq/gameday/internal/offline"
	"github.com/gamedayhq/gameday/internal/participation"
)

type GamedayApp struct {
	log            *log.Logger
	db             database.GamedayRepository
	mux            *http.Server
	cs             *channel.ChannelServer
	ledger         *participation.Ledger
	cache          *offline.Cache
	signingKey     []byte
	allowedOrigins []string
	// generateShortId is a field so tests can pin event ids
	generateShortId func() (string, error)
}

func NewGamedayApp(mux *http.ServeMux, logger *log.Logger, cs *channel.ChannelServer, ledger *participation.Ledger, cache *offline.Cache, db database.GamedayRepository, cfg *config.Config) *GamedayApp {
	s := &GamedayApp{
		log:             logger,
		db:              db,
		cs:              cs,
		ledger:          ledger,
		cache:           cache,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("/api/account", s.authMiddleware(s.account))

	mux.Handle("POST /api/events", s.authMiddleware(s.createEvent))
	mux.Handle("GET /api/events", s.authMiddleware(s.getEvent))
	mux.Handle("DELETE /api/events", s.authMiddleware(s.deleteEvent))
	mux.Handle("POST /api/events/{id}/join", s.authMiddleware(s.joinEvent))
	mux.Handle("GET /api/events/{id}/stats", s.authMiddleware(s.eventStats))

	mux.Handle("GET /api/userEvents", s.authMiddleware(s.userEvents))
	mux.Handle("PUT /api/userEvents", s.authMiddleware(s.updateRole))
	mux.Handle("DELETE /api/userEvents", s.authMiddleware(s.leaveEvent))

	// listing is deliberately unauthenticated, writes are not
	mux.HandleFunc("GET /api/messages", s.getMessages)
	mux.Handle("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.Handle("PUT /api/messages", s.authMiddleware(s.editMessage))
	mux.Handle("DELETE /api/messages", s.authMiddleware(s.deleteMessage))

	if cache != nil {
		mux.Handle("GET /api/cache", s.authMiddleware(s.cacheInfo))
		mux.Handle("POST /api/cache", s.authMiddleware(s.cacheSave))
		mux.Handle("DELETE /api/cache", s.authMiddleware(s.cacheClear))
		mux.Handle("GET /api/cache/snapshot", s.authMiddleware(s.cacheLoad))
	}

	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /healthz", s.healthz)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *GamedayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *GamedayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
