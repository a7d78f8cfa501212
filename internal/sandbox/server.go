// Package sandbox is an in-memory implementation of the storefront REST API.
// It backs local development and the end-to-end tests of the client packages.
package sandbox

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/ec-storefront/internal/auth"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type Server struct {
	state  *state
	tokens *auth.TokenService
	log    *slog.Logger
}

type Option func(*options)

type options struct {
	secret   string
	tokenTTL time.Duration
	taxRate  decimal.Decimal
	log      *slog.Logger
	seed     bool
}

// WithJWTSecret sets the HS256 signing key.
func WithJWTSecret(secret string) Option {
	return func(o *options) { o.secret = secret }
}

// WithTokenTTL sets bearer token lifetime. Zero issues non-expiring tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(o *options) { o.tokenTTL = ttl }
}

func WithTaxRate(rate decimal.Decimal) Option {
	return func(o *options) { o.taxRate = rate }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithoutSeed starts with an empty catalog and no promo codes.
func WithoutSeed() Option {
	return func(o *options) { o.seed = false }
}

func New(opts ...Option) *Server {
	o := options{
		secret:  "sandbox-secret",
		taxRate: decimal.RequireFromString("0.20"),
		seed:    true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.New("sandbox")
	}

	s := &Server{
		state:  newState(o.taxRate),
		tokens: auth.NewTokenService(o.secret, o.tokenTTL),
		log:    o.log,
	}
	if o.seed {
		s.seed()
	}
	return s
}

// Handler returns the routes. The REST API lives under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/sanctum/csrf-cookie", s.csrfCookie)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(identify(s.tokens))

		r.Post("/login", s.login)
		r.Post("/register", s.register)
		r.Get("/products", s.listProducts)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/logout", s.logout)
			r.Get("/user", s.currentUser)
		})
		r.With(requireRole("admin")).Post("/products", s.createProduct)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/show", s.showCart)
			r.Post("/guest/create", s.createGuestCart)
			r.Post("/guest/add", s.guestAdd)
			r.With(requireAuth).Post("/client/add", s.clientAdd)
			r.Delete("/item/remove/{cartItemID}", s.removeItem)
			r.Post("/item/update", s.updateItem)
			r.With(requireAuth).Post("/merge", s.mergeCarts)
			r.Post("/promo_code", s.applyPromo)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondMessage(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondMessage(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

// AddProduct adds or replaces a catalog product.
func (s *Server) AddProduct(p Product) {
	s.state.putProduct(p)
}

// AddPromo registers a promo code. Codes match case-insensitively.
func (s *Server) AddPromo(p Promo) {
	s.state.putPromo(p)
}

// AddUser registers an account directly, bypassing /register.
func (s *Server) AddUser(name, email, password string, roles ...string) (*User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if len(roles) == 0 {
		roles = []string{defaultRole}
	}
	return s.state.addUser(name, email, hash, roles)
}

// IssueToken returns a bearer token for user, as /login would.
func (s *Server) IssueToken(user *User) (string, error) {
	token, _, err := s.tokens.Issue(user.ID, user.Email, user.Roles)
	return token, err
}

func (s *Server) seed() {
	catalog := []Product{
		{ID: 1, Name: "Tajine en terre cuite", Price: decimal.RequireFromString("249.00"), Stock: 12, ImageURL: "/storage/products/tajine.jpg"},
		{ID: 2, Name: "Théière berbère", Price: decimal.RequireFromString("189.50"), Stock: 8, ImageURL: "/storage/products/theiere.jpg"},
		{ID: 3, Name: "Tapis Beni Ouarain", Price: decimal.RequireFromString("3450.00"), Stock: 2, ImageURL: "/storage/products/tapis.jpg"},
		{ID: 5, Name: "Huile d'argan 250ml", Price: decimal.RequireFromString("120.00"), Stock: 30, ImageURL: "/storage/products/argan.jpg"},
		{ID: 7, Name: "Babouches en cuir", Price: decimal.RequireFromString("100.00"), Stock: 20, ImageURL: "/storage/products/babouches.jpg"},
	}
	for _, p := range catalog {
		s.state.putProduct(p)
	}
	s.state.putPromo(Promo{Code: "SAVE10", Percent: decimal.NewFromInt(10)})
	s.state.putPromo(Promo{Code: "WELCOME50", Amount: decimal.NewFromInt(50)})
}
