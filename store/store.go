package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"merch-svc/models"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	productColumns = "id, name, description, price, size, weight, stock, image_url, created_at, updated_at"
	orderColumns   = "id, customer_name, customer_email, customer_phone, delivery_method, delivery_address, postal_code, " +
		"delivery_city, cdek_city_code, cdek_pickup_point_code, delivery_comment, shipping_cost, total_price, status, " +
		"payment_id, payment_status, tracking_number, email_sent, shipping_notification_sent, created_at"
)

// serializationFailure is the SQLSTATE Postgres reports when a serializable
// transaction loses to a concurrent one.
const serializationFailure = "40001"

type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Size, &p.Weight, &p.Stock, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.CustomerName, &o.CustomerEmail, &o.CustomerPhone, &o.DeliveryMethod,
		&o.DeliveryAddress, &o.PostalCode, &o.DeliveryCity, &o.CityCode, &o.PickupPointCode, &o.DeliveryComment,
		&o.ShippingCost, &o.TotalPrice, &o.Status, &o.PaymentID, &o.PaymentStatus, &o.TrackingNumber,
		&o.EmailSent, &o.ShippingNotificationSent, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			s.logger.Error("Failed to scan product", zap.Error(err))
			continue
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// DecrementStock takes qty units off the product's stock. It reports false
// without changing anything when fewer than qty units remain.
func (s *PostgresStore) DecrementStock(ctx context.Context, id int64, qty int) (bool, error) {
	return decrementStock(ctx, s.db, id, qty)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func decrementStock(ctx context.Context, ex execer, id int64, qty int) (bool, error) {
	res, err := ex.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND stock >= $1",
		qty, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}
	return n == 1, nil
}

// CreateOrder inserts the order, its items and the matching stock decrements
// in one serializable transaction. Every item that cannot be covered by the
// remaining stock is reported in an *models.InsufficientStockError and
// nothing is written.
func (s *PostgresStore) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) (*models.Order, error) {
	ctx, span := otel.Tracer("merch-svc").Start(ctx, "store.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int("order.items", len(items)))

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		span.RecordError(err)
		return nil, s.persistenceError("create_order", err)
	}
	defer tx.Rollback()

	created := *order
	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders (customer_name, customer_email, customer_phone, delivery_method, delivery_address,
			postal_code, delivery_city, cdek_city_code, cdek_pickup_point_code, delivery_comment,
			shipping_cost, total_price, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`,
		order.CustomerName, order.CustomerEmail, order.CustomerPhone, order.DeliveryMethod, order.DeliveryAddress,
		order.PostalCode, order.DeliveryCity, order.CityCode, order.PickupPointCode, order.DeliveryComment,
		order.ShippingCost, order.TotalPrice, order.Status, order.PaymentStatus,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return nil, s.persistenceError("create_order", err)
	}

	created.Items = make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		it.OrderID = created.ID
		err := tx.QueryRowContext(ctx,
			"INSERT INTO order_items (order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4) RETURNING id",
			created.ID, it.ProductID, it.Quantity, it.Price,
		).Scan(&it.ID)
		if err != nil {
			span.RecordError(err)
			return nil, s.persistenceError("create_order_item", err)
		}
		created.Items = append(created.Items, it)
	}

	var shortfalls []models.StockShortfall
	for _, it := range items {
		ok, err := decrementStock(ctx, tx, it.ProductID, it.Quantity)
		if err != nil {
			span.RecordError(err)
			return nil, s.persistenceError("decrement_stock", err)
		}
		if ok {
			continue
		}
		shortfall := models.StockShortfall{ProductID: it.ProductID, Name: it.ProductName, Requested: it.Quantity}
		err = tx.QueryRowContext(ctx, "SELECT name, stock FROM products WHERE id = $1", it.ProductID).
			Scan(&shortfall.Name, &shortfall.Available)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			span.RecordError(err)
			return nil, s.persistenceError("decrement_stock", err)
		}
		shortfalls = append(shortfalls, shortfall)
	}
	if len(shortfalls) > 0 {
		span.SetAttributes(attribute.Int("order.shortfalls", len(shortfalls)))
		return nil, &models.InsufficientStockError{Items: shortfalls}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, s.persistenceError("commit_order", err)
	}

	span.SetAttributes(attribute.Int64("order.id", created.ID))
	return &created, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT oi.id, oi.order_id, oi.product_id, COALESCE(p.name, ''), oi.quantity, oi.price
		FROM order_items oi LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1 ORDER BY oi.id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateOrder writes the non-nil fields of patch.
func (s *PostgresStore) UpdateOrder(ctx context.Context, id int64, patch models.OrderPatch) error {
	if patch.Empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.PaymentID != nil {
		add("payment_id", *patch.PaymentID)
	}
	if patch.PaymentStatus != nil {
		add("payment_status", *patch.PaymentStatus)
	}
	if patch.TrackingNumber != nil {
		add("tracking_number", *patch.TrackingNumber)
	}
	if patch.EmailSent != nil {
		add("email_sent", *patch.EmailSent)
	}
	if patch.ShippingNotificationSent != nil {
		add("shipping_notification_sent", *patch.ShippingNotificationSent)
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	if patch.ExpectStatus != nil {
		args = append(args, *patch.ExpectStatus)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n > 0 {
		return nil
	}
	if patch.ExpectStatus == nil {
		return fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}

	// The guard missed: tell a vanished order apart from one that moved on.
	var current models.OrderStatus
	err = s.db.QueryRowContext(ctx, "SELECT status FROM orders WHERE id = $1", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return fmt.Errorf("order %d is %s, expected %s: %w", id, current, *patch.ExpectStatus, models.ErrOrderChanged)
}

// DeleteOrder removes an order and returns its items' quantities to stock.
func (s *PostgresStore) DeleteOrder(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.persistenceError("delete_order", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT product_id, quantity FROM order_items WHERE order_id = $1", id)
	if err != nil {
		return s.persistenceError("delete_order", err)
	}
	type line struct {
		productID int64
		quantity  int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.quantity); err != nil {
			rows.Close()
			return s.persistenceError("delete_order", err)
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return s.persistenceError("delete_order", err)
	}

	for _, l := range lines {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
			l.quantity, l.productID,
		); err != nil {
			return s.persistenceError("restore_stock", err)
		}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return s.persistenceError("delete_order", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return s.persistenceError("delete_order", err)
	}
	s.logger.Info("Order deleted and stock restored", zap.Int64("order_id", id), zap.Int("items", len(lines)))
	return nil
}

func (s *PostgresStore) persistenceError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == serializationFailure {
		s.logger.Warn("Concurrent checkout conflict", zap.String("operation", op), zap.String("detail", pqErr.Message))
	}
	return models.NewExternalServiceError("postgres", op, 0, nil, err)
}
