package sandbox

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrLineNotFound    = errors.New("cart item not found")
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidPromo    = errors.New("invalid promo code")
	ErrEmailTaken      = errors.New("email already taken")
)

// StockError is returned when a requested quantity exceeds the product stock.
type StockError struct {
	Product   string
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("Only %d units of %s are available", e.Available, e.Product)
}

type Product struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	ImageURL string          `json:"image_url"`
}

// Promo is either a percentage (Percent > 0) or a fixed amount off.
type Promo struct {
	Code    string
	Percent decimal.Decimal
	Amount  decimal.Decimal
}

func (p Promo) discount(subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	if p.Percent.IsPositive() {
		d = subtotal.Mul(p.Percent).Div(decimal.NewFromInt(100))
	} else {
		d = p.Amount
	}
	return decimal.Min(d, subtotal).Round(2)
}

type User struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Roles        []string `json:"roles"`
	passwordHash string
}

type line struct {
	ID        int64
	ProductID int64
	Quantity  int
}

type cartState struct {
	lines []*line
	promo *Promo
}

func (c *cartState) find(lineID int64) *line {
	for _, l := range c.lines {
		if l.ID == lineID {
			return l
		}
	}
	return nil
}

func (c *cartState) byProduct(productID int64) *line {
	for _, l := range c.lines {
		if l.ProductID == productID {
			return l
		}
	}
	return nil
}

// state is the in-memory backing store of the sandbox. All access goes
// through its mutex.
type state struct {
	mu       sync.Mutex
	taxRate  decimal.Decimal
	products map[int64]Product
	promos   map[string]Promo
	users    map[string]*User
	carts    map[string]*cartState
	nextUser int64
	nextLine int64
}

func newState(taxRate decimal.Decimal) *state {
	return &state{
		taxRate:  taxRate,
		products: make(map[int64]Product),
		promos:   make(map[string]Promo),
		users:    make(map[string]*User),
		carts:    make(map[string]*cartState),
	}
}

func userCartKey(userID int64) string { return fmt.Sprintf("user:%d", userID) }

func guestCartKey(sessionID string) string { return "guest:" + sessionID }

func (s *state) putProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *state) listProducts() []Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Product) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *state) putPromo(p Promo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promos[strings.ToUpper(p.Code)] = p
}

func (s *state) addUser(name, email, passwordHash string, roles []string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := s.users[key]; ok {
		return nil, ErrEmailTaken
	}
	s.nextUser++
	u := &User{ID: s.nextUser, Name: name, Email: email, Roles: roles, passwordHash: passwordHash}
	s.users[key] = u
	return u, nil
}

func (s *state) userByEmail(email string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	return u, ok
}

func (s *state) userByID(id int64) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, true
		}
	}
	return nil, false
}

// newGuestCart provisions an empty cart under a fresh session id.
func (s *state) newGuestCart() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID := uuid.NewString()
	s.carts[guestCartKey(sessionID)] = &cartState{}
	return sessionID
}

func (s *state) hasCart(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.carts[key]
	return ok
}

// add puts quantity of productID into the cart at key, creating the cart if
// needed.
func (s *state) add(key string, productID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	c, ok := s.carts[key]
	if !ok {
		c = &cartState{}
		s.carts[key] = c
	}

	l := c.byProduct(productID)
	current := 0
	if l != nil {
		current = l.Quantity
	}
	if current+quantity > p.Stock {
		return &StockError{Product: p.Name, Available: p.Stock}
	}
	if l == nil {
		s.nextLine++
		c.lines = append(c.lines, &line{ID: s.nextLine, ProductID: productID, Quantity: quantity})
		return nil
	}
	l.Quantity += quantity
	return nil
}

func (s *state) update(key string, lineID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[key]
	if !ok {
		return ErrCartNotFound
	}
	l := c.find(lineID)
	if l == nil {
		return ErrLineNotFound
	}
	p := s.products[l.ProductID]
	if quantity > p.Stock {
		return &StockError{Product: p.Name, Available: p.Stock}
	}
	l.Quantity = quantity
	return nil
}

func (s *state) remove(key string, lineID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[key]
	if !ok {
		return ErrCartNotFound
	}
	i := slices.IndexFunc(c.lines, func(l *line) bool { return l.ID == lineID })
	if i < 0 {
		return ErrLineNotFound
	}
	c.lines = slices.Delete(c.lines, i, i+1)
	if len(c.lines) == 0 {
		c.promo = nil
	}
	return nil
}

// applyPromo attaches code to the cart and returns the resulting discount.
func (s *state) applyPromo(key, code string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[key]
	if !ok {
		return decimal.Zero, ErrCartNotFound
	}
	p, ok := s.promos[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return decimal.Zero, ErrInvalidPromo
	}
	c.promo = &p
	return s.totalsLocked(c).Discount, nil
}

// merge moves the guest cart into the user cart. Quantities are summed and
// capped at stock; the guest promo is kept only if the user cart has none.
func (s *state) merge(guestKey, userKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	guest, ok := s.carts[guestKey]
	if !ok {
		return 0, ErrCartNotFound
	}
	user, ok := s.carts[userKey]
	if !ok {
		user = &cartState{}
		s.carts[userKey] = user
	}

	moved := 0
	for _, gl := range guest.lines {
		stock := s.products[gl.ProductID].Stock
		if stock < 1 {
			continue
		}
		if ul := user.byProduct(gl.ProductID); ul != nil {
			ul.Quantity = min(ul.Quantity+gl.Quantity, stock)
		} else {
			s.nextLine++
			user.lines = append(user.lines, &line{ID: s.nextLine, ProductID: gl.ProductID, Quantity: min(gl.Quantity, stock)})
		}
		moved++
	}
	if user.promo == nil && guest.promo != nil {
		user.promo = guest.promo
	}
	delete(s.carts, guestKey)
	return moved, nil
}

func (s *state) show(key string) (cartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[key]
	if !ok {
		return cartView{}, ErrCartNotFound
	}
	view := cartView{Items: make([]lineView, 0, len(c.lines)), Totals: s.totalsLocked(c)}
	for _, l := range c.lines {
		p := s.products[l.ProductID]
		view.Items = append(view.Items, lineView{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Price:     p.Price,
			Total:     p.Price.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2),
			Product: productView{
				Name:   p.Name,
				Images: []imageView{{ImageURL: p.ImageURL}},
			},
		})
	}
	return view, nil
}

func (s *state) totals(key string) (totalsView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[key]
	if !ok {
		return totalsView{}, ErrCartNotFound
	}
	return s.totalsLocked(c), nil
}

func (s *state) totalsLocked(c *cartState) totalsView {
	subtotal := decimal.Zero
	for _, l := range c.lines {
		subtotal = subtotal.Add(s.products[l.ProductID].Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = subtotal.Round(2)

	discount := decimal.Zero
	if c.promo != nil {
		discount = c.promo.discount(subtotal)
	}
	after := subtotal.Sub(discount)
	tax := after.Mul(s.taxRate).Round(2)
	return totalsView{
		Subtotal:           subtotal,
		Discount:           discount,
		PriceAfterDiscount: after,
		TaxRate:            s.taxRate,
		Tax:                tax,
		Total:              after.Add(tax),
	}
}

type cartView struct {
	Items  []lineView `json:"items"`
	Totals totalsView `json:"totals"`
}

type lineView struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Product   productView     `json:"product"`
}

type productView struct {
	Name   string      `json:"name"`
	Images []imageView `json:"images"`
}

type imageView struct {
	ImageURL string `json:"image_url"`
}

type totalsView struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	Discount           decimal.Decimal `json:"discount"`
	PriceAfterDiscount decimal.Decimal `json:"price_after_discount"`
	TaxRate            decimal.Decimal `json:"tax_rate"`
	Tax                decimal.Decimal `json:"tax"`
	Total              decimal.Decimal `json:"total"`
}
