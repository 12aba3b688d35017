package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/campus-connect/internal/auth"
	"github.com/npezzotti/campus-connect/internal/chat"
	"github.com/npezzotti/campus-connect/internal/config"
	"github.com/npezzotti/campus-connect/internal/presence"
	"github.com/npezzotti/campus-connect/internal/server"
)

// ChatApp is the HTTP side of the chat core. Every request is
// authenticated and authorized on its own, whatever the caller's realtime
// session has already been allowed to do.
type ChatApp struct {
	log            *log.Logger
	store          *chat.Store
	matches        *chat.Matches
	cs             *server.ChatServer
	presence       *presence.Registry
	authn          auth.Authenticator
	allowedOrigins []string
	mux            *http.Server
}

func NewChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, store *chat.Store, matches *chat.Matches, registry *presence.Registry, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		store:          store,
		matches:        matches,
		cs:             cs,
		presence:       registry,
		authn:          auth.NewJWTAuthenticator(cfg.SigningKey),
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("POST /api/chat/send", s.authMiddleware(s.sendMessage))
	mux.Handle("GET /api/chat/history/{matchId}", s.authMiddleware(s.getHistory))
	mux.Handle("PUT /api/chat/seen/{matchId}", s.authMiddleware(s.markSeen))
	mux.Handle("DELETE /api/chat/message/{messageId}", s.authMiddleware(s.deleteMessage))
	mux.Handle("DELETE /api/chat/clear/{matchId}", s.authMiddleware(s.clearChat))
	mux.Handle("GET /api/matches", s.authMiddleware(s.listMatches))
	mux.Handle("DELETE /api/matches/{matchId}", s.authMiddleware(s.unmatch))
	mux.Handle("GET /api/presence/online", s.authMiddleware(s.listOnline))
	mux.Handle("GET /ws", s.wsAuthMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	if logger != nil {
		h = handlers.CustomLoggingHandler(logger.Writer(), h, redactedCombinedLog)
	}

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *ChatApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *ChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
