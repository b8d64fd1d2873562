package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/sgetiers/pkg/common"
	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/storage"
)

const authTokenCookie = "auth_token"

type contextKey string

const emailContextKey contextKey = "email"

// tokenVerifier is a function that validates a Google ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Reader runs read cycles. It is implemented by *connector.Connector.
type Reader interface {
	ReadDevice(ctx context.Context, deviceID string) ([]string, error)
	ReadAll(ctx context.Context) (map[string][]string, error)
}

// Server exposes read cycles to the external scheduler and the catalog,
// device and variable endpoints to operators.
type Server struct {
	reader  Reader
	storage storage.Database

	listenAddr string
	httpServer *http.Server

	readSpecificEmail string
	adminEmails       []string
	oidcVerifier      tokenVerifier
	bypassAuth        bool
	serverName        string
	readTimeout       time.Duration
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(r Reader, s storage.Database) *Server {
	srv := &Server{
		reader:     r,
		storage:    s,
		serverName: "sgetiers",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	readSpecificEmail := lflag.String("read-specific-email", "", "email to validate for /api/read")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to manage devices and fields")
	oidcAudience := lflag.String("oidc-audience", "", "audience to validate Google id tokens against")
	bypassAuth := lflag.Bool("bypass-auth", false, "Disable authentication (local development only)")
	readTimeout := lflag.Duration("read-timeout", 30*time.Minute, "Maximum duration of a read cycle triggered through /api/read")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.readSpecificEmail = *readSpecificEmail
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			// discovery and key fetches go through the shared user-agent client
			ctx := oidc.ClientContext(context.Background(), common.HTTPClient(10*time.Second))
			provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
		}
		srv.bypassAuth = *bypassAuth
		srv.readTimeout = *readTimeout

		if !srv.bypassAuth && srv.oidcVerifier == nil {
			log.Ctx(context.Background()).Warn("no oidc-audience configured, every api request will be rejected")
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/read", s.handleRead)
	apiMux.HandleFunc("GET /api/fields", s.handleListFields)
	apiMux.HandleFunc("POST /api/fields", s.handleUpsertField)
	apiMux.HandleFunc("GET /api/devices", s.handleListDevices)
	apiMux.HandleFunc("PUT /api/devices/{id}", s.handlePutDevice)
	apiMux.HandleFunc("POST /api/devices/{id}/fields", s.handleEnableFields)
	apiMux.HandleFunc("GET /api/devices/{id}/variables", s.handleListVariables)
	apiMux.HandleFunc("GET /api/variables/{id}/history", s.handleVariableHistory)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.listenAddr,
		Handler:     s.setupHandler(),
		ReadTimeout: 15 * time.Second,
		// read cycles paginate over months of history
		WriteTimeout: s.readTimeout + time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// isAdmin returns true if the email is in the adminEmails list.
func (s *Server) isAdmin(email string) bool {
	for _, adminEmail := range s.adminEmails {
		if email == adminEmail {
			return true
		}
	}
	return false
}
