package checkout

import (
	"context"
	"errors"
	"sync"

	"merch-svc/models"
	"merch-svc/payment"

	"github.com/shopspring/decimal"
)

// memStore keeps products and orders in memory and reserves stock the same
// all-or-nothing way the Postgres store does.
type memStore struct {
	mu          sync.Mutex
	products    map[int64]*models.Product
	orders      map[int64]*models.Order
	items       map[int64][]models.OrderItem
	nextID      int64
	updates     int
	deletes     int
	updateErr   error
	getOrderErr error

	// beforeUpdate, when set, runs once ahead of the next UpdateOrder so a
	// test can slip a competing write in after the caller read the order.
	beforeUpdate func()
}

func newMemStore(products ...models.Product) *memStore {
	s := &memStore{
		products: make(map[int64]*models.Product),
		orders:   make(map[int64]*models.Order),
		items:    make(map[int64][]models.OrderItem),
		nextID:   100,
	}
	for i := range products {
		p := products[i]
		s.products[p.ID] = &p
	}
	return s
}

func (s *memStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var shortfalls []models.StockShortfall
	for _, it := range items {
		p, ok := s.products[it.ProductID]
		if !ok || p.Stock < it.Quantity {
			sf := models.StockShortfall{ProductID: it.ProductID, Requested: it.Quantity}
			if ok {
				sf.Name, sf.Available = p.Name, p.Stock
			}
			shortfalls = append(shortfalls, sf)
		}
	}
	if len(shortfalls) > 0 {
		return nil, &models.InsufficientStockError{Items: shortfalls}
	}

	s.nextID++
	created := *order
	created.ID = s.nextID
	created.Items = nil
	for _, it := range items {
		s.products[it.ProductID].Stock -= it.Quantity
		it.OrderID = created.ID
		created.Items = append(created.Items, it)
	}
	stored := created
	s.orders[created.ID] = &stored
	s.items[created.ID] = created.Items
	return &created, nil
}

func (s *memStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getOrderErr != nil {
		return nil, s.getOrderErr
	}
	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	cp.Items = nil
	return &cp, nil
}

func (s *memStore) ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderItem(nil), s.items[orderID]...), nil
}

func (s *memStore) UpdateOrder(ctx context.Context, id int64, patch models.OrderPatch) error {
	s.mu.Lock()
	hook := s.beforeUpdate
	s.beforeUpdate = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	o, ok := s.orders[id]
	if !ok {
		return models.ErrNotFound
	}
	if patch.ExpectStatus != nil && o.Status != *patch.ExpectStatus {
		return models.ErrOrderChanged
	}
	s.updates++
	patch.Apply(o)
	return nil
}

func (s *memStore) DeleteOrder(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return models.ErrNotFound
	}
	for _, it := range s.items[id] {
		if p, ok := s.products[it.ProductID]; ok {
			p.Stock += it.Quantity
		}
	}
	delete(s.orders, id)
	delete(s.items, id)
	s.deletes++
	return nil
}

func (s *memStore) order(id int64) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *memStore) stock(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock
}

type fakeCarriers struct {
	cost   decimal.Decimal
	err    error
	calls  int
	weight int
	method models.DeliveryMethod
	dest   models.Destination
}

func (c *fakeCarriers) Quote(ctx context.Context, method models.DeliveryMethod, dest models.Destination, weightGrams int) (*models.ShippingQuote, error) {
	c.calls++
	c.method, c.weight, c.dest = method, weightGrams, dest
	if c.err != nil {
		return nil, c.err
	}
	return &models.ShippingQuote{Cost: c.cost}, nil
}

type fakePayments struct {
	createErr error
	requests  []payment.IntentRequest
	statuses  map[string]models.PaymentStatus
	owners    map[string]int64
	statusErr error
	lookups   int
}

func (p *fakePayments) CreatePaymentIntent(ctx context.Context, in payment.IntentRequest) (*payment.Intent, error) {
	p.requests = append(p.requests, in)
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &payment.Intent{
		PaymentID:       "pay-1",
		ConfirmationURL: "https://pay.example/confirm/pay-1",
		Status:          models.PaymentStatusPending,
	}, nil
}

func (p *fakePayments) GetPaymentStatus(ctx context.Context, paymentID string) (*payment.StatusResult, error) {
	p.lookups++
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	status, ok := p.statuses[paymentID]
	if !ok {
		return nil, errors.New("unknown payment")
	}
	return &payment.StatusResult{
		Status:  status,
		Paid:    status == models.PaymentStatusSucceeded,
		OrderID: p.owners[paymentID],
	}, nil
}

type fakeNotifier struct {
	err       error
	confirmed []int64
	shipped   []int64
	attempts  int
}

func (n *fakeNotifier) OrderConfirmed(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	n.attempts++
	if n.err != nil {
		return n.err
	}
	n.confirmed = append(n.confirmed, order.ID)
	return nil
}

func (n *fakeNotifier) OrderShipped(ctx context.Context, order *models.Order) error {
	n.attempts++
	if n.err != nil {
		return n.err
	}
	n.shipped = append(n.shipped, order.ID)
	return nil
}

type fakeEvents struct {
	events []models.OrderEvent
}

func (e *fakeEvents) Publish(ctx context.Context, topic, key string, event any) error {
	e.events = append(e.events, event.(models.OrderEvent))
	return nil
}

func (e *fakeEvents) types() []string {
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.EventType
	}
	return out
}

type fakeBasket struct {
	items   map[int64]int
	cleared bool
}

func (b *fakeBasket) Snapshot(ctx context.Context) (map[int64]int, error) {
	out := make(map[int64]int, len(b.items))
	for id, q := range b.items {
		out[id] = q
	}
	return out, nil
}

func (b *fakeBasket) Clear(ctx context.Context) error {
	b.items = map[int64]int{}
	b.cleared = true
	return nil
}

type fakeCache struct {
	invalidated []int64
}

func (c *fakeCache) Invalidate(ctx context.Context, ids ...int64) {
	c.invalidated = append(c.invalidated, ids...)
}
