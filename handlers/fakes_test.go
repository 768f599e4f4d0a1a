package handlers

import (
	"context"
	"sort"

	"merch-svc/checkout"
	"merch-svc/models"

	"github.com/shopspring/decimal"
)

type fakeCatalog map[int64]models.Product

func (f fakeCatalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := f[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (f fakeCatalog) ListProducts(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		1: {ID: 1, Name: "Hoodie", Price: decimal.NewFromInt(2500), Weight: decimal.RequireFromString("0.6"), Stock: 10},
		2: {ID: 2, Name: "Sticker pack", Price: decimal.NewFromInt(300), Weight: decimal.RequireFromString("0.05"), Stock: 100},
	}
}

// fakeOrders records the calls the handlers make into the checkout layer.
type fakeOrders struct {
	placeResult *models.PlaceOrderResult
	placeErr    error
	placed      map[int64]int
	placeReq    models.PlaceOrderRequest

	order     *models.Order
	orderErr  error
	callbacks [][]byte
	source    string
	target    models.OrderStatus
	tracking  string
}

func (f *fakeOrders) PlaceOrder(ctx context.Context, basket checkout.Basket, req models.PlaceOrderRequest) (*models.PlaceOrderResult, error) {
	f.placeReq = req
	entries, err := basket.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	f.placed = entries
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return f.placeResult, nil
}

func (f *fakeOrders) PollPaymentStatus(ctx context.Context, orderID int64) (*models.Order, error) {
	return f.order, f.orderErr
}

func (f *fakeOrders) HandlePaymentCallback(ctx context.Context, source string, body []byte) error {
	f.source = source
	f.callbacks = append(f.callbacks, body)
	return f.orderErr
}

func (f *fakeOrders) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return f.order, f.orderErr
}

func (f *fakeOrders) UpdateStatus(ctx context.Context, orderID int64, target models.OrderStatus, trackingNumber string) (*models.Order, error) {
	f.target, f.tracking = target, trackingNumber
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	o := *f.order
	o.Status = target
	return &o, nil
}
