package sandbox

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type addRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type updateRequest struct {
	CartItemID int64 `json:"cart_item_id"`
	Quantity   int   `json:"quantity"`
}

type promoRequest struct {
	Code string `json:"code"`
}

type addResponse struct {
	Message    string     `json:"message"`
	SessionID  string     `json:"session_id,omitempty"`
	CartTotals totalsView `json:"cart_totals"`
}

// Cart Handlers

func (s *Server) showCart(w http.ResponseWriter, r *http.Request) {
	key, ok := cartKey(r.Context())
	if !ok {
		respondMessage(w, http.StatusNotFound, "Cart not found")
		return
	}
	view, err := s.state.show(key)
	if err != nil {
		respondStateError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// guestAdd adds to the guest cart of X-Session-Id. Without a known session a
// new guest cart is provisioned and its id returned.
func (s *Server) guestAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decodeBody(w, r, &req) || !validQuantity(w, req.Quantity) {
		return
	}

	sessionID := sessionIDFrom(r.Context())
	issued := ""
	if sessionID == "" || !s.state.hasCart(guestCartKey(sessionID)) {
		sessionID = s.state.newGuestCart()
		issued = sessionID
	}
	s.addToCart(w, guestCartKey(sessionID), req, issued)
}

func (s *Server) clientAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decodeBody(w, r, &req) || !validQuantity(w, req.Quantity) {
		return
	}
	claims, _ := claimsFrom(r.Context())
	s.addToCart(w, userCartKey(claims.UserID), req, "")
}

func (s *Server) addToCart(w http.ResponseWriter, key string, req addRequest, issuedSessionID string) {
	if err := s.state.add(key, req.ProductID, req.Quantity); err != nil {
		respondStateError(w, err)
		return
	}
	cartMutations.WithLabelValues("add").Inc()

	totals, err := s.state.totals(key)
	if err != nil {
		respondStateError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, addResponse{
		Message:    "Product added to cart",
		SessionID:  issuedSessionID,
		CartTotals: totals,
	})
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	key, ok := cartKey(r.Context())
	if !ok {
		respondMessage(w, http.StatusNotFound, "Cart not found")
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "cartItemID"), 10, 64)
	if err != nil {
		respondMessage(w, http.StatusNotFound, "Cart item not found")
		return
	}
	if err := s.state.remove(key, lineID); err != nil {
		respondStateError(w, err)
		return
	}
	cartMutations.WithLabelValues("remove").Inc()
	respondMessage(w, http.StatusOK, "Item removed from cart")
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decodeBody(w, r, &req) || !validQuantity(w, req.Quantity) {
		return
	}
	key, ok := cartKey(r.Context())
	if !ok {
		respondMessage(w, http.StatusNotFound, "Cart not found")
		return
	}
	if err := s.state.update(key, req.CartItemID, req.Quantity); err != nil {
		respondStateError(w, err)
		return
	}
	cartMutations.WithLabelValues("update").Inc()
	respondMessage(w, http.StatusOK, "Cart updated")
}

// mergeCarts needs both the bearer token and X-Session-Id.
func (s *Server) mergeCarts(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	sessionID := sessionIDFrom(r.Context())
	if sessionID == "" {
		respondValidation(w, "The session id is required.", map[string][]string{
			"session_id": {"The session id field is required."},
		})
		return
	}

	moved, err := s.state.merge(guestCartKey(sessionID), userCartKey(claims.UserID))
	if errors.Is(err, ErrCartNotFound) {
		respondMessage(w, http.StatusOK, "Nothing to merge")
		return
	}
	if err != nil {
		respondStateError(w, err)
		return
	}
	cartMutations.WithLabelValues("merge").Inc()
	s.log.Info("carts merged", "user_id", claims.UserID, "lines", moved)
	respondMessage(w, http.StatusOK, "Carts merged successfully")
}

func (s *Server) applyPromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		respondValidation(w, "The code field is required.", map[string][]string{
			"code": {"The code field is required."},
		})
		return
	}
	key, ok := cartKey(r.Context())
	if !ok {
		respondMessage(w, http.StatusNotFound, "Cart not found")
		return
	}

	discount, err := s.state.applyPromo(key, req.Code)
	if err != nil {
		respondStateError(w, err)
		return
	}
	cartMutations.WithLabelValues("promo").Inc()
	respondJSON(w, http.StatusOK, struct {
		Message  string          `json:"message"`
		Discount decimal.Decimal `json:"discount"`
	}{"Promo code applied successfully", discount})
}

func (s *Server) createGuestCart(w http.ResponseWriter, r *http.Request) {
	sessionID := s.state.newGuestCart()
	respondJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID})
}

// Catalog Handlers

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"data": s.state.listProducts()})
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var p Product
	if !decodeBody(w, r, &p) {
		return
	}
	if p.ID <= 0 || p.Name == "" || !p.Price.IsPositive() {
		respondValidation(w, "The given data was invalid.", map[string][]string{
			"product": {"id, name and a positive price are required."},
		})
		return
	}
	s.state.putProduct(p)
	respondJSON(w, http.StatusCreated, p)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func validQuantity(w http.ResponseWriter, quantity int) bool {
	if quantity < 1 {
		respondValidation(w, "The quantity must be at least 1.", map[string][]string{
			"quantity": {"The quantity must be at least 1."},
		})
		return false
	}
	return true
}

func respondStateError(w http.ResponseWriter, err error) {
	var stock *StockError
	switch {
	case errors.As(err, &stock):
		respondValidation(w, stock.Error(), map[string][]string{"quantity": {stock.Error()}})
	case errors.Is(err, ErrCartNotFound):
		respondMessage(w, http.StatusNotFound, "Cart not found")
	case errors.Is(err, ErrLineNotFound):
		respondMessage(w, http.StatusNotFound, "Cart item not found")
	case errors.Is(err, ErrProductNotFound):
		respondMessage(w, http.StatusNotFound, "Product not found")
	case errors.Is(err, ErrInvalidPromo):
		respondValidation(w, "Invalid promo code", map[string][]string{"code": {"The selected code is invalid."}})
	default:
		respondMessage(w, http.StatusInternalServerError, "Server Error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondMessage writes the {"message": ...} body Laravel uses for errors.
func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

func respondValidation(w http.ResponseWriter, message string, fields map[string][]string) {
	respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"message": message,
		"errors":  fields,
	})
}
