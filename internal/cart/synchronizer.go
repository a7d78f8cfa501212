// Package cart keeps the client's copy of the server cart in step with the
// server. The server is the only source of truth: every mutation is followed
// by a full refetch and the snapshot is replaced, never patched.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/example/ec-storefront/internal/activity"
	"github.com/example/ec-storefront/internal/gateway"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/session"
)

const (
	pathShow        = "/cart/show"
	pathGuestAdd    = "/cart/guest/add"
	pathClientAdd   = "/cart/client/add"
	pathRemove      = "/cart/item/remove/%d"
	pathUpdate      = "/cart/item/update"
	pathMerge       = "/cart/merge"
	pathPromo       = "/cart/promo_code"
	pathGuestCreate = "/cart/guest/create"
)

var (
	ErrLineNotFound   = fmt.Errorf("cart line not found: %w", gateway.ErrNotFound)
	ErrInvalidProduct = errors.New("product id is required")
	// ErrGuestSessionNotCleared means the merge succeeded on the server but
	// the stale guest session id is still stored locally.
	ErrGuestSessionNotCleared = errors.New("cart merged but guest session could not be cleared")
)

// ClearError reports a ClearCart that stopped partway. The lines already
// removed stay removed.
type ClearError struct {
	Removed   int
	Remaining int
	Err       error
}

func (e *ClearError) Error() string {
	return fmt.Sprintf("cart partially cleared (%d removed, %d remaining): %v", e.Removed, e.Remaining, e.Err)
}

func (e *ClearError) Unwrap() error { return e.Err }

// API is the subset of the gateway client the synchronizer needs.
type API interface {
	Do(ctx context.Context, req gateway.Request, out any) error
}

// Identities is the subset of the session manager the synchronizer needs.
type Identities interface {
	Current() session.Identity
	SetSessionID(ctx context.Context, sessionID string) (session.Transition, error)
	ClearSessionID(ctx context.Context) (session.Transition, error)
}

type Synchronizer struct {
	api        API
	identities Identities
	publisher  activity.Publisher
	assetBase  string
	log        *slog.Logger

	mu        sync.Mutex
	snapshot  Snapshot
	err       error
	inflight  int
	panelOpen bool
	// issued and applied sequence cart reads; a read older than the last
	// applied one is dropped.
	issued  uint64
	applied uint64
}

type Option func(*Synchronizer)

func WithPublisher(p activity.Publisher) Option {
	return func(s *Synchronizer) { s.publisher = p }
}

// WithAssetBaseURL resolves relative product image paths.
func WithAssetBaseURL(base string) Option {
	return func(s *Synchronizer) { s.assetBase = base }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.log = l }
}

func NewSynchronizer(api API, identities Identities, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		api:        api,
		identities: identities,
		publisher:  activity.NopPublisher{},
		snapshot:   EmptySnapshot(),
		log:        logging.New("cart"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchCart replaces the snapshot with the server cart. explicitSessionID, if
// set, is used instead of the current identity. A 404 yields an empty cart;
// any other failure keeps the previous snapshot and records the error.
func (s *Synchronizer) FetchCart(ctx context.Context, explicitSessionID string) (Snapshot, error) {
	s.begin()
	defer s.end()

	req := gateway.Request{Op: "cart.show", Method: http.MethodGet, Path: pathShow}
	identity := s.identities.Current()
	checkIdentity := true
	if explicitSessionID != "" {
		explicit := session.Guest(explicitSessionID)
		req.Identity = &explicit
		identity = explicit
		checkIdentity = false
	}

	seq := s.nextSeq()
	var resp showResponse
	err := s.api.Do(ctx, req, &resp)

	var snap Snapshot
	switch {
	case err == nil:
		snap = resp.snapshot(s.assetBase)
	case errors.Is(err, gateway.ErrNotFound):
		snap = EmptySnapshot()
	default:
		s.fail(err)
		return s.Snapshot(), err
	}

	s.apply(seq, identity, checkIdentity, snap)
	return s.Snapshot(), nil
}

// AddItem adds quantity (minimum 1) of product, persisting a new guest
// session id if the server issued one, then refetches.
func (s *Synchronizer) AddItem(ctx context.Context, product Product, quantity int) error {
	if product.ID <= 0 {
		return ErrInvalidProduct
	}
	if quantity < 1 {
		quantity = 1
	}

	s.begin()
	defer s.end()

	identity := s.identities.Current()
	req := gateway.Request{
		Op:     "cart.guest_add",
		Method: http.MethodPost,
		Path:   pathGuestAdd,
		Body:   addRequest{ProductID: product.ID, Quantity: quantity},
	}
	if identity.IsAuthenticated() {
		req.Op, req.Path = "cart.client_add", pathClientAdd
	}

	var resp addResponse
	if err := s.api.Do(ctx, req, &resp); err != nil {
		s.fail(err)
		return err
	}

	// The new session id must be persisted before the refetch, or the
	// refetch would go out without an identity.
	explicit := ""
	if !identity.IsAuthenticated() && resp.SessionID != "" && resp.SessionID != identity.SessionID {
		if _, err := s.identities.SetSessionID(ctx, resp.SessionID); err != nil {
			err = fmt.Errorf("failed to persist guest session: %w", err)
			s.fail(err)
			return err
		}
		explicit = resp.SessionID
	} else if identity.Kind() == session.KindNone {
		s.log.Warn("guest add returned no session id", "product_id", product.ID)
	}

	s.SetPanelOpen(true)
	s.publish(ctx, activity.ItemAdded, product.ID, quantity, "")

	_, err := s.FetchCart(ctx, explicit)
	return err
}

// RemoveItem deletes the line holding productID. An unknown product fails
// with ErrLineNotFound and leaves the snapshot untouched.
func (s *Synchronizer) RemoveItem(ctx context.Context, productID int64) error {
	line, ok := s.Snapshot().Line(productID)
	if !ok {
		s.fail(ErrLineNotFound)
		return ErrLineNotFound
	}

	s.begin()
	defer s.end()

	if err := s.removeLine(ctx, line); err != nil {
		s.fail(err)
		return err
	}
	s.publish(ctx, activity.ItemRemoved, productID, line.Quantity, "")

	_, err := s.FetchCart(ctx, "")
	return err
}

// UpdateQuantity sets the quantity of productID's line, clamped to at least 1.
// Stock limits are left to the server. If the line is not in the snapshot the
// cart is refetched once before giving up.
func (s *Synchronizer) UpdateQuantity(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		quantity = 1
	}

	s.begin()
	defer s.end()

	line, ok := s.Snapshot().Line(productID)
	if !ok {
		snap, err := s.FetchCart(ctx, "")
		if err != nil {
			return err
		}
		if line, ok = snap.Line(productID); !ok {
			s.fail(ErrLineNotFound)
			return ErrLineNotFound
		}
	}

	err := s.api.Do(ctx, gateway.Request{
		Op:     "cart.update",
		Method: http.MethodPost,
		Path:   pathUpdate,
		Body:   updateRequest{CartItemID: line.CartLineID, Quantity: quantity},
	}, nil)
	if err != nil {
		s.fail(err)
		return err
	}
	s.publish(ctx, activity.QuantityUpdated, productID, quantity, "")

	_, err = s.FetchCart(ctx, "")
	return err
}

// ClearCart removes every line one by one. It is not atomic: on failure the
// lines removed so far stay removed and a *ClearError is returned.
func (s *Synchronizer) ClearCart(ctx context.Context) error {
	lines := s.Snapshot().Items

	s.begin()
	defer s.end()

	removed := 0
	for _, line := range lines {
		err := s.removeLine(ctx, line)
		if err != nil && !errors.Is(err, gateway.ErrNotFound) {
			clearErr := &ClearError{Removed: removed, Remaining: len(lines) - removed, Err: err}
			if _, fetchErr := s.FetchCart(ctx, ""); fetchErr != nil {
				s.log.Warn("refetch after partial clear failed", "error", fetchErr)
			}
			s.fail(clearErr)
			return clearErr
		}
		removed++
	}
	s.publish(ctx, activity.Cleared, 0, removed, "")

	_, err := s.FetchCart(ctx, "")
	return err
}

// ApplyPromoCode never returns an error; the result message is meant to be
// shown either way. With no identity at all a guest cart is created first.
func (s *Synchronizer) ApplyPromoCode(ctx context.Context, code string) PromoResult {
	code = strings.TrimSpace(code)
	if code == "" {
		return PromoResult{Message: "Please enter a promo code"}
	}

	s.begin()
	defer s.end()

	explicit := ""
	if s.identities.Current().Kind() == session.KindNone {
		var created guestCreateResponse
		err := s.api.Do(ctx, gateway.Request{Op: "cart.guest_create", Method: http.MethodPost, Path: pathGuestCreate}, &created)
		if err != nil {
			s.log.Warn("guest cart creation failed", "error", err)
			return PromoResult{Message: gateway.MessageOf(err, "Could not create a cart")}
		}
		if _, err := s.identities.SetSessionID(ctx, created.SessionID); err != nil {
			s.log.Warn("failed to persist guest session", "error", err)
			return PromoResult{Message: "Could not save the cart session"}
		}
		explicit = created.SessionID
	}

	var resp promoResponse
	err := s.api.Do(ctx, gateway.Request{
		Op:     "cart.promo",
		Method: http.MethodPost,
		Path:   pathPromo,
		Body:   promoRequest{Code: code},
	}, &resp)
	if err != nil {
		return PromoResult{Message: gateway.MessageOf(err, "Could not apply the promo code")}
	}

	result := PromoResult{Success: true, Message: resp.Message, Discount: *resp.Discount}
	if result.Message == "" {
		result.Message = "Promo code applied"
	}
	s.publish(ctx, activity.PromoApplied, 0, 0, code)

	if _, err := s.FetchCart(ctx, explicit); err != nil {
		s.log.Warn("refetch after promo failed", "error", err)
	}
	return result
}

// MergeCartsAfterLogin moves the guest cart into the user cart identified by
// token, forgets the guest session and refetches. Without a guest session it
// only refetches.
func (s *Synchronizer) MergeCartsAfterLogin(ctx context.Context, token string) error {
	current := s.identities.Current()
	if current.SessionID == "" {
		_, err := s.FetchCart(ctx, "")
		return err
	}

	s.begin()
	defer s.end()

	merge := session.Identity{Token: token, SessionID: current.SessionID}
	var resp messageResponse
	err := s.api.Do(ctx, gateway.Request{
		Op:       "cart.merge",
		Method:   http.MethodPost,
		Path:     pathMerge,
		Identity: &merge,
		Merge:    true,
	}, &resp)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("failed to merge guest cart: %w", err)
	}

	s.publish(ctx, activity.Merged, 0, 0, "")

	// Items are on the user cart now; refetch even if the local clear fails.
	_, clearErr := s.identities.ClearSessionID(ctx)
	_, err = s.FetchCart(ctx, "")
	if clearErr != nil {
		clearErr = fmt.Errorf("%w: %w", ErrGuestSessionNotCleared, clearErr)
		s.fail(clearErr)
		return clearErr
	}
	return err
}

// Watch resets the snapshot whenever the identity is dropped entirely
// (logout). It returns when ctx is done or transitions is closed.
func (s *Synchronizer) Watch(ctx context.Context, transitions <-chan session.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-transitions:
			if !ok {
				return
			}
			if t.To.Kind() == session.KindNone {
				s.reset()
			}
		}
	}
}

// Snapshot returns a copy of the current snapshot.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.clone()
}

// Err is the last recorded failure, cleared by the next applied fetch.
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Loading reports whether any operation is in flight. Callers may disable
// controls while it is true; nothing enforces it.
func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

func (s *Synchronizer) ItemCount() int {
	return s.Snapshot().ItemCount()
}

func (s *Synchronizer) PanelOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panelOpen
}

func (s *Synchronizer) SetPanelOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelOpen = open
}

func (s *Synchronizer) TogglePanel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelOpen = !s.panelOpen
	return s.panelOpen
}

func (s *Synchronizer) removeLine(ctx context.Context, line Line) error {
	return s.api.Do(ctx, gateway.Request{
		Op:     "cart.remove",
		Method: http.MethodDelete,
		Path:   fmt.Sprintf(pathRemove, line.CartLineID),
	}, nil)
}

func (s *Synchronizer) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// apply installs snap unless a newer read was applied already or, when
// checkIdentity is set, the identity changed while the read was in flight.
func (s *Synchronizer) apply(seq uint64, identity session.Identity, checkIdentity bool, snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.applied {
		s.log.Debug("discarding stale cart response", "seq", seq, "applied", s.applied)
		return false
	}
	if checkIdentity && identity.Key() != s.identities.Current().Key() {
		s.log.Debug("discarding cart response for previous identity", "seq", seq)
		return false
	}
	s.applied = seq
	s.snapshot = snap
	s.err = nil
	return true
}

func (s *Synchronizer) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = EmptySnapshot()
	s.err = nil
	s.panelOpen = false
	s.applied = s.issued
}

func (s *Synchronizer) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Synchronizer) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
}

func (s *Synchronizer) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
}

func (s *Synchronizer) publish(ctx context.Context, t activity.Type, productID int64, quantity int, code string) {
	identity := s.identities.Current()
	e := activity.NewEvent(t, identity.Kind().String(), identity.Key())
	e.ProductID = productID
	e.Quantity = quantity
	e.Code = code
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("failed to publish cart activity", "type", string(t), "error", err)
	}
}
