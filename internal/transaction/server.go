package transaction

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// UserHeader carries the caller's user id when a proxy in front of the
// server has already authenticated them. It is ignored unless the server is
// built WithTrustedUserHeader.
const UserHeader = "X-User-ID"

// Server handles HTTP requests for transactions
type Server struct {
	service         *Service
	basicAuth       BasicAuth
	defaultUser     string
	trustUserHeader bool
	mux             *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTrustedUserHeader makes the server take the owner from UserHeader.
// Only use it behind a proxy that sets the header itself. Basic auth, when
// enabled, still wins.
func WithTrustedUserHeader() ServerOption {
	return func(s *Server) {
		s.trustUserHeader = true
	}
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) enabled() bool {
	return a.Username != "" || a.Password != ""
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth, defaultUser string, opts ...ServerOption) *Server {
	return NewServerWithMux(service, basicAuth, defaultUser, http.NewServeMux(), opts...)
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, defaultUser string, mux *http.ServeMux, opts ...ServerOption) *Server {
	s := &Server{
		service:     service,
		basicAuth:   basicAuth,
		defaultUser: defaultUser,
		mux:         mux,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if !s.basicAuth.enabled() {
		return true
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// userID resolves whose records a request reads and writes. With basic auth
// enabled the owner is the authenticated user and nothing the client sends
// can change it.
func (s *Server) userID(r *http.Request) string {
	if s.basicAuth.enabled() {
		return s.basicAuth.Username
	}
	if s.trustUserHeader {
		if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
			return id
		}
	}
	return s.defaultUser
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Expense Tracker"`)
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if s.userID(r) == "" {
			respondError(w, http.StatusUnauthorized, "No user")
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	allowed := "Content-Type, Authorization"
	if s.trustUserHeader && !s.basicAuth.enabled() {
		allowed += ", " + UserHeader
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", allowed)
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/summary/stream", s.requireAuth(s.handleSummaryStream))
	s.mux.HandleFunc("GET /api/summary", s.requireAuth(s.handleSummary))

	s.mux.HandleFunc("GET /api/transactions/{id}/receipt", s.requireAuth(s.handleGetReceiptFile))
	s.mux.HandleFunc("GET /api/transactions/{id}/entry", s.requireAuth(s.handleGetEntry))
	s.mux.HandleFunc("GET /api/transactions/{id}", s.requireAuth(s.handleGetTransaction))
	s.mux.HandleFunc("PUT /api/transactions/{id}", s.requireAuth(s.handleUpdateTransaction))
	s.mux.HandleFunc("DELETE /api/transactions/{id}", s.requireAuth(s.handleDeleteTransaction))
	s.mux.HandleFunc("GET /api/transactions", s.requireAuth(s.handleListTransactions))
	s.mux.HandleFunc("POST /api/transactions", s.requireAuth(s.handleCreateTransaction))

	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleUploadReceipt))

	s.mux.HandleFunc("GET /api/categories", s.handleCategories)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// ServeHTTP implements http.Handler. Every response carries CORS headers and
// preflight requests are answered directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}
