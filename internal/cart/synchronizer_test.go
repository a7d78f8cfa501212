package cart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ec-storefront/internal/activity"
	"github.com/example/ec-storefront/internal/gateway"
	"github.com/example/ec-storefront/internal/infrastructure/store"
	"github.com/example/ec-storefront/internal/infrastructure/store/mocks"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/sandbox"
	"github.com/example/ec-storefront/internal/session"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []activity.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e activity.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []activity.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]activity.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type clientSide struct {
	kv   *store.MemoryStore
	ids  *session.Manager
	sync *Synchronizer
	pub  *recordingPublisher
}

func newClientSide(t *testing.T, serverURL string) *clientSide {
	t.Helper()
	kv := store.NewMemoryStore()
	ids, err := session.NewManager(context.Background(), kv, session.WithLogger(logging.Discard()))
	require.NoError(t, err)
	client, err := gateway.New(serverURL+"/api", ids, gateway.WithLogger(logging.Discard()))
	require.NoError(t, err)

	pub := &recordingPublisher{}
	s := NewSynchronizer(client, ids,
		WithPublisher(pub),
		WithAssetBaseURL(serverURL),
		WithLogger(logging.Discard()),
	)
	return &clientSide{kv: kv, ids: ids, sync: s, pub: pub}
}

type harness struct {
	*clientSide
	srv  *sandbox.Server
	base string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := sandbox.New(sandbox.WithLogger(logging.Discard()), sandbox.WithTaxRate(decimal.Zero))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{clientSide: newClientSide(t, ts.URL), srv: srv, base: ts.URL}
}

func (h *harness) login(t *testing.T) string {
	t.Helper()
	user, err := h.srv.AddUser("Amina", "amina@example.com", "password123")
	require.NoError(t, err)
	token, err := h.srv.IssueToken(user)
	require.NoError(t, err)
	return token
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

// fakeAPI is a scripted backend for cases the sandbox cannot produce.
type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func newFakeAPI(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: string(body)})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		handle(w, r)
	}))
	t.Cleanup(ts.Close)
	return f, ts.URL
}

func (f *fakeAPI) find(method, path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func showBody(lines ...string) string {
	return `{"items":[` + strings.Join(lines, ",") + `],"totals":{"subtotal":"0","discount":"0","price_after_discount":"0","tax_rate":"0","tax":"0","total":"0"}}`
}

func lineJSON(id, productID int64, qty int) string {
	return fmt.Sprintf(`{"id":%d,"product_id":%d,"quantity":%d,"price":"10.00","name":"P%d"}`, id, productID, qty, productID)
}

// ============================================
// Scenarios
// ============================================

func TestScenario_GuestAddThenPromo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.sync.AddItem(ctx, Product{ID: 7, Name: "Babouches"}, 2))

	snap := h.sync.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, int64(7), snap.Items[0].ProductID)
	assert.Equal(t, 2, snap.Items[0].Quantity)
	assertAmount(t, "200", snap.Totals.Subtotal)
	assert.Equal(t, 2, h.sync.ItemCount())
	assert.True(t, h.sync.PanelOpen())

	sid, ok, err := h.kv.Get(ctx, store.KeySessionID)
	require.NoError(t, err)
	require.True(t, ok, "guest session persisted")
	assert.Equal(t, sid, h.ids.Current().SessionID)

	result := h.sync.ApplyPromoCode(ctx, "SAVE10")
	assert.True(t, result.Success)
	assertAmount(t, "20", result.Discount)

	snap = h.sync.Snapshot()
	assertAmount(t, "20", snap.Totals.Discount)
	assertAmount(t, "180", snap.Totals.PriceAfterDiscount)
	assertAmount(t, "180", snap.Totals.Total)
	assert.False(t, snap.Totals.Estimated)

	assert.Equal(t, []activity.Type{activity.ItemAdded, activity.PromoApplied}, h.pub.types())
}

func TestScenario_UpdateQuantityClampsToOne(t *testing.T) {
	api, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/cart/show":
			fmt.Fprint(w, showBody(lineJSON(11, 5, 3)))
		case "/api/cart/item/update":
			fmt.Fprint(w, `{"message":"Cart updated"}`)
		}
	})
	c := newClientSide(t, url)
	ctx := context.Background()
	_, err := c.ids.SetToken(ctx, "tok")
	require.NoError(t, err)

	// local snapshot is empty; the line is found after one refresh
	require.NoError(t, c.sync.UpdateQuantity(ctx, 5, 0))

	updates := api.find(http.MethodPost, "/api/cart/item/update")
	require.Len(t, updates, 1)
	assert.JSONEq(t, `{"cart_item_id":11,"quantity":1}`, updates[0].Body)
	assert.Equal(t, "Bearer tok", updates[0].Header.Get("Authorization"))
	assert.Empty(t, updates[0].Header.Get(gateway.HeaderSessionID))
}

func TestUpdateQuantity_EmptyServerCart(t *testing.T) {
	api, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Cart not found"}`)
	})
	c := newClientSide(t, url)
	ctx := context.Background()
	_, err := c.ids.SetToken(ctx, "tok")
	require.NoError(t, err)

	err = c.sync.UpdateQuantity(ctx, 5, 0)

	assert.ErrorIs(t, err, ErrLineNotFound)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
	assert.Empty(t, api.find(http.MethodPost, "/api/cart/item/update"), "nothing sent")
}

func TestScenario_RapidAddsConverge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ids.SetToken(ctx, h.login(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []int64{7, 5} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, h.sync.AddItem(ctx, Product{ID: id}, 1))
		}(id)
	}
	wg.Wait()

	snap := h.sync.Snapshot()
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, snap.ItemCount(), h.sync.ItemCount())
	assertAmount(t, "220", snap.Totals.Subtotal)
	assert.False(t, h.sync.Loading())
}

// ============================================
// FetchCart
// ============================================

func TestFetchCart_NotFoundIsEmpty(t *testing.T) {
	h := newHarness(t)

	snap, err := h.sync.FetchCart(context.Background(), "")

	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
	assert.True(t, snap.Totals.Total.IsZero())
	assert.True(t, snap.Totals.Subtotal.IsZero())
	assert.NoError(t, h.sync.Err())
}

func TestFetchCart_ResolvesImagesAndNames(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sync.AddItem(context.Background(), Product{ID: 7}, 1))

	line, ok := h.sync.Snapshot().Line(7)
	require.True(t, ok)
	assert.Equal(t, "Babouches en cuir", line.Name)
	assert.Equal(t, h.base+"/storage/products/babouches.jpg", line.ImageURL)
	assertAmount(t, "100", line.UnitPrice)
}

func TestFetchCart_FailureKeepsSnapshot(t *testing.T) {
	var calls atomic.Int32
	_, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, showBody(lineJSON(1, 2, 1)))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"Server Error"}`)
	})
	c := newClientSide(t, url)
	ctx := context.Background()

	first, err := c.sync.FetchCart(ctx, "")
	require.NoError(t, err)

	second, err := c.sync.FetchCart(ctx, "")
	assert.ErrorIs(t, err, gateway.ErrServer)
	assert.Equal(t, first, second)
	assert.ErrorIs(t, c.sync.Err(), gateway.ErrServer)
}

func TestFetchCart_MalformedResponse(t *testing.T) {
	var calls atomic.Int32
	_, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, showBody(lineJSON(1, 2, 1)))
			return
		}
		fmt.Fprint(w, `{"items":[{"id":1,"product_id":2}]}`)
	})
	c := newClientSide(t, url)
	ctx := context.Background()

	_, err := c.sync.FetchCart(ctx, "")
	require.NoError(t, err)

	_, err = c.sync.FetchCart(ctx, "")

	assert.ErrorIs(t, err, gateway.ErrMalformedResponse)
	assert.Len(t, c.sync.Snapshot().Items, 1)
}

func TestFetchCart_MissingTotalsAreEstimated(t *testing.T) {
	_, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"id":1,"product_id":2,"quantity":3,"price":"10.50","name":"Lanterne"}]}`)
	})
	c := newClientSide(t, url)

	snap, err := c.sync.FetchCart(context.Background(), "")

	require.NoError(t, err)
	assert.True(t, snap.Totals.Estimated)
	assertAmount(t, "31.5", snap.Totals.Subtotal)
	assertAmount(t, "31.5", snap.Totals.Total)
	assert.Equal(t, placeholderImage, snap.Items[0].ImageURL)
}

func TestFetchCart_ExplicitSessionID(t *testing.T) {
	api, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, showBody())
	})
	c := newClientSide(t, url)

	_, err := c.sync.FetchCart(context.Background(), "sess-explicit")
	require.NoError(t, err)

	shows := api.find(http.MethodGet, "/api/cart/show")
	require.Len(t, shows, 1)
	assert.Equal(t, "sess-explicit", shows[0].Header.Get(gateway.HeaderSessionID))
}

func TestFetchCart_StaleResponseDiscarded(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	_, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(arrived)
			<-release
			fmt.Fprint(w, showBody(lineJSON(1, 100, 1)))
			return
		}
		fmt.Fprint(w, showBody(lineJSON(2, 200, 1)))
	})
	c := newClientSide(t, url)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.sync.FetchCart(ctx, "")
	}()
	<-arrived
	assert.True(t, c.sync.Loading())

	_, err := c.sync.FetchCart(ctx, "")
	require.NoError(t, err)
	close(release)
	<-done

	snap := c.sync.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, int64(200), snap.Items[0].ProductID, "older response must not overwrite newer")
	assert.False(t, c.sync.Loading())
}

func TestFetchCart_IdentityChangedInFlight(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	_, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		fmt.Fprint(w, showBody(lineJSON(1, 100, 1)))
	})
	c := newClientSide(t, url)
	ctx := context.Background()
	_, err := c.ids.SetSessionID(ctx, "sess-1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.sync.FetchCart(ctx, "")
	}()
	<-arrived
	_, err = c.ids.SetToken(ctx, "tok")
	require.NoError(t, err)
	close(release)
	<-done

	assert.True(t, c.sync.Snapshot().IsEmpty(), "guest cart must not be shown to the user identity")
}

func TestFetchCart_AuthError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ids.SetToken(ctx, "not-a-token")
	require.NoError(t, err)

	_, err = h.sync.FetchCart(ctx, "")

	assert.ErrorIs(t, err, gateway.ErrAuth)
	assert.ErrorIs(t, h.sync.Err(), gateway.ErrAuth)
}

// ============================================
// AddItem
// ============================================

func TestAddItem_ClampsQuantity(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sync.AddItem(context.Background(), Product{ID: 7}, -3))

	line, ok := h.sync.Snapshot().Line(7)
	require.True(t, ok)
	assert.Equal(t, 1, line.Quantity)
}

func TestAddItem_InvalidProduct(t *testing.T) {
	h := newHarness(t)

	err := h.sync.AddItem(context.Background(), Product{}, 1)

	assert.ErrorIs(t, err, ErrInvalidProduct)
}

func TestAddItem_ReusesGuestSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.sync.AddItem(ctx, Product{ID: 7}, 1))
	sid := h.ids.Current().SessionID
	require.NoError(t, h.sync.AddItem(ctx, Product{ID: 5}, 1))

	assert.Equal(t, sid, h.ids.Current().SessionID)
	assert.Len(t, h.sync.Snapshot().Items, 2)
}

func TestAddItem_StockRejected(t *testing.T) {
	h := newHarness(t)

	err := h.sync.AddItem(context.Background(), Product{ID: 3}, 5)

	assert.ErrorIs(t, err, gateway.ErrValidation)
	assert.Contains(t, gateway.MessageOf(err, ""), "Only 2 units")
	assert.ErrorIs(t, h.sync.Err(), gateway.ErrValidation)
	assert.True(t, h.sync.Snapshot().IsEmpty())
}

func TestAddItem_AuthenticatedUsesClientEndpoint(t *testing.T) {
	api, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/cart/client/add":
			fmt.Fprint(w, `{"message":"Product added to cart"}`)
		default:
			fmt.Fprint(w, showBody(lineJSON(1, 7, 1)))
		}
	})
	c := newClientSide(t, url)
	ctx := context.Background()
	_, err := c.ids.SetToken(ctx, "tok")
	require.NoError(t, err)

	require.NoError(t, c.sync.AddItem(ctx, Product{ID: 7}, 1))

	assert.Len(t, api.find(http.MethodPost, "/api/cart/client/add"), 1)
	assert.Empty(t, api.find(http.MethodPost, "/api/cart/guest/add"))
	assert.Empty(t, c.ids.Current().SessionID)
}

// ============================================
// RemoveItem / ClearCart
// ============================================

func TestRemoveItem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sync.AddItem(ctx, Product{ID: 7}, 1))
	require.NoError(t, h.sync.AddItem(ctx, Product{ID: 5}, 2))

	require.NoError(t, h.sync.RemoveItem(ctx, 7))

	snap := h.sync.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, int64(5), snap.Items[0].ProductID)
	assertAmount(t, "240", snap.Totals.Subtotal)
}

func TestRemoveItem_NotFoundLeavesSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sync.AddItem(ctx, Product{ID: 7}, 1))
	before := h.sync.Snapshot()

	err := h.sync.RemoveItem(ctx, 999)

	assert.ErrorIs(t, err, gateway.ErrNotFound)
	assert.ErrorIs(t, err, ErrLineNotFound)
	assert.Equal(t, before, h.sync.Snapshot())
}

func TestClearCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 7} {
		require.NoError(t, h.sync.AddItem(ctx, Product{ID: id}, 1))
	}

	require.NoError(t, h.sync.ClearCart(ctx))

	snap := h.sync.Snapshot()
	assert.True(t, snap.IsEmpty())
	assert.True(t, snap.Totals.Total.IsZero())
	assert.Contains(t, h.pub.types(), activity.Cleared)
}

func TestClearCart_PartialFailure(t *testing.T) {
	var mu sync.Mutex
	remaining := map[int64]bool{11: true, 12: true, 13: true}
	_, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodGet:
			var lines []string
			for _, id := range []int64{11, 12, 13} {
				if remaining[id] {
					lines = append(lines, lineJSON(id, id-10, 1))
				}
			}
			fmt.Fprint(w, showBody(lines...))
		case r.URL.Path == "/api/cart/item/remove/12":
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"message":"Server Error"}`)
		default:
			var id int64
			fmt.Sscanf(r.URL.Path, "/api/cart/item/remove/%d", &id)
			delete(remaining, id)
			fmt.Fprint(w, `{"message":"Item removed from cart"}`)
		}
	})
	c := newClientSide(t, url)
	ctx := context.Background()
	_, err := c.sync.FetchCart(ctx, "")
	require.NoError(t, err)

	err = c.sync.ClearCart(ctx)

	var clearErr *ClearError
	require.ErrorAs(t, err, &clearErr)
	assert.Equal(t, 1, clearErr.Removed)
	assert.Equal(t, 2, clearErr.Remaining)
	assert.ErrorIs(t, err, gateway.ErrServer)
	assert.Len(t, c.sync.Snapshot().Items, 2, "partial state is shown, not rolled back")
	assert.ErrorAs(t, c.sync.Err(), &clearErr)
}

// ============================================
// ApplyPromoCode
// ============================================

func TestApplyPromoCode_ProvisionsGuestCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result := h.sync.ApplyPromoCode(ctx, "  save10 ")

	assert.True(t, result.Success)
	assert.True(t, result.Discount.IsZero())
	assert.True(t, h.ids.Current().IsGuest())
	_, ok, err := h.kv.Get(ctx, store.KeySessionID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApplyPromoCode_Rejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sync.AddItem(ctx, Product{ID: 7}, 1))

	result := h.sync.ApplyPromoCode(ctx, "BOGUS")

	assert.False(t, result.Success)
	assert.Equal(t, "Invalid promo code", result.Message)
	assert.True(t, h.sync.Snapshot().Totals.Discount.IsZero())
}

func TestApplyPromoCode_EmptyCodeSendsNothing(t *testing.T) {
	api, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {})
	c := newClientSide(t, url)

	result := c.sync.ApplyPromoCode(context.Background(), "   ")

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Message)
	assert.Zero(t, api.count())
}

func TestApplyPromoCode_MalformedResponse(t *testing.T) {
	_, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {})
	c := newClientSide(t, url)
	ctx := context.Background()
	_, err := c.ids.SetSessionID(ctx, "sess-1")
	require.NoError(t, err)

	// empty 200 body is malformed
	result := c.sync.ApplyPromoCode(ctx, "SAVE10")

	assert.False(t, result.Success)
	assert.Equal(t, "Could not apply the promo code", result.Message)
}

func TestApplyPromoCode_MissingDiscountIsMalformed(t *testing.T) {
	api, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/cart/promo_code" {
			fmt.Fprint(w, `{"message":"Promo code applied successfully"}`)
			return
		}
		fmt.Fprint(w, showBody())
	})
	c := newClientSide(t, url)
	ctx := context.Background()
	_, err := c.ids.SetSessionID(ctx, "sess-1")
	require.NoError(t, err)

	result := c.sync.ApplyPromoCode(ctx, "SAVE10")

	assert.False(t, result.Success)
	assert.Equal(t, "Could not apply the promo code", result.Message)
	assert.Empty(t, api.find(http.MethodGet, "/api/cart/show"), "no refetch after a rejected response")
	assert.Empty(t, c.pub.types())
}

func TestApplyPromoCode_ZeroDiscountAccepted(t *testing.T) {
	_, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/cart/promo_code" {
			fmt.Fprint(w, `{"message":"Promo code applied successfully","discount":"0"}`)
			return
		}
		fmt.Fprint(w, showBody())
	})
	c := newClientSide(t, url)
	ctx := context.Background()
	_, err := c.ids.SetSessionID(ctx, "sess-1")
	require.NoError(t, err)

	result := c.sync.ApplyPromoCode(ctx, "SAVE10")

	assert.True(t, result.Success)
	assertAmount(t, "0", result.Discount)
}

// ============================================
// Merge / Watch
// ============================================

func TestMergeCartsAfterLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sync.AddItem(ctx, Product{ID: 7}, 2))

	token := h.login(t)
	_, err := h.ids.SetToken(ctx, token)
	require.NoError(t, err)
	require.True(t, h.ids.Current().Merging())

	require.NoError(t, h.sync.MergeCartsAfterLogin(ctx, token))

	_, ok, err := h.kv.Get(ctx, store.KeySessionID)
	require.NoError(t, err)
	assert.False(t, ok, "guest session cleared from storage")
	assert.True(t, h.ids.Current().IsAuthenticated())
	assert.Empty(t, h.ids.Current().SessionID)

	line, ok := h.sync.Snapshot().Line(7)
	require.True(t, ok)
	assert.Equal(t, 2, line.Quantity)
	assert.Contains(t, h.pub.types(), activity.Merged)
}

func TestMergeCartsAfterLogin_SendsBothHeaders(t *testing.T) {
	api, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/cart/merge":
			fmt.Fprint(w, `{"message":"Carts merged successfully"}`)
		default:
			fmt.Fprint(w, showBody())
		}
	})
	c := newClientSide(t, url)
	ctx := context.Background()
	_, err := c.ids.SetSessionID(ctx, "sess-1")
	require.NoError(t, err)
	_, err = c.ids.SetToken(ctx, "tok")
	require.NoError(t, err)

	require.NoError(t, c.sync.MergeCartsAfterLogin(ctx, "tok"))

	merges := api.find(http.MethodPost, "/api/cart/merge")
	require.Len(t, merges, 1)
	assert.Equal(t, "Bearer tok", merges[0].Header.Get("Authorization"))
	assert.Equal(t, "sess-1", merges[0].Header.Get(gateway.HeaderSessionID))

	// every later request carries the token only
	shows := api.find(http.MethodGet, "/api/cart/show")
	require.NotEmpty(t, shows)
	last := shows[len(shows)-1]
	assert.Equal(t, "Bearer tok", last.Header.Get("Authorization"))
	assert.Empty(t, last.Header.Get(gateway.HeaderSessionID))
}

func TestMergeCartsAfterLogin_FailureKeepsGuestSession(t *testing.T) {
	_, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"Server Error"}`)
	})
	c := newClientSide(t, url)
	ctx := context.Background()
	_, err := c.ids.SetSessionID(ctx, "sess-1")
	require.NoError(t, err)

	err = c.sync.MergeCartsAfterLogin(ctx, "tok")

	assert.ErrorIs(t, err, gateway.ErrServer)
	assert.Equal(t, "sess-1", c.ids.Current().SessionID)
}

func TestMergeCartsAfterLogin_SessionClearFailureAfterServerMerge(t *testing.T) {
	_, url := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/cart/merge" {
			fmt.Fprint(w, `{"message":"Carts merged successfully"}`)
			return
		}
		fmt.Fprint(w, showBody(lineJSON(11, 5, 2)))
	})
	kv := mocks.NewMockKeyValueStore()
	kv.Seed(store.KeySessionID, "sess-1")
	kv.Seed(store.KeyToken, "tok")
	kv.DeleteErr = errors.New("disk full")
	ctx := context.Background()
	ids, err := session.NewManager(ctx, kv, session.WithLogger(logging.Discard()))
	require.NoError(t, err)
	client, err := gateway.New(url+"/api", ids, gateway.WithLogger(logging.Discard()))
	require.NoError(t, err)
	pub := &recordingPublisher{}
	s := NewSynchronizer(client, ids, WithPublisher(pub), WithLogger(logging.Discard()))

	err = s.MergeCartsAfterLogin(ctx, "tok")

	assert.ErrorIs(t, err, ErrGuestSessionNotCleared)
	assert.ErrorIs(t, s.Err(), ErrGuestSessionNotCleared)
	line, ok := s.Snapshot().Line(5)
	require.True(t, ok, "merged cart is shown")
	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, []activity.Type{activity.Merged}, pub.types())
	assert.Equal(t, []string{store.KeySessionID}, kv.DeleteCalls)
}

func TestWatch_ResetsOnLogout(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transitions, unsubscribe := h.ids.Subscribe()
	defer unsubscribe()
	go h.sync.Watch(ctx, transitions)

	require.NoError(t, h.sync.AddItem(ctx, Product{ID: 7}, 1))
	require.False(t, h.sync.Snapshot().IsEmpty())

	_, err := h.ids.ClearSessionID(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return h.sync.Snapshot().IsEmpty() && !h.sync.PanelOpen()
	}, time.Second, 10*time.Millisecond)
}

func TestPanel(t *testing.T) {
	s := NewSynchronizer(nil, nil, WithLogger(logging.Discard()))

	assert.False(t, s.PanelOpen())
	assert.True(t, s.TogglePanel())
	s.SetPanelOpen(false)
	assert.False(t, s.PanelOpen())
}

func TestClearError(t *testing.T) {
	cause := errors.New("boom")
	err := &ClearError{Removed: 1, Remaining: 2, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "1 removed, 2 remaining")
}
