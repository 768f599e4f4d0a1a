package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"merch-svc/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id SERIAL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price NUMERIC(10, 2) NOT NULL,
	size VARCHAR(50) NOT NULL DEFAULT '',
	weight NUMERIC(6, 3) NOT NULL DEFAULT 0.3,
	stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
	image_url TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS orders (
	id SERIAL PRIMARY KEY,
	customer_name VARCHAR(255) NOT NULL,
	customer_email VARCHAR(255) NOT NULL,
	customer_phone VARCHAR(20) NOT NULL DEFAULT '',
	delivery_method VARCHAR(20) NOT NULL,
	delivery_address TEXT,
	postal_code VARCHAR(10),
	delivery_city VARCHAR(255),
	cdek_city_code VARCHAR(20),
	cdek_pickup_point_code VARCHAR(50),
	delivery_comment TEXT,
	shipping_cost NUMERIC(10, 2) NOT NULL DEFAULT 0,
	total_price NUMERIC(10, 2) NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'pending',
	payment_id VARCHAR(255),
	payment_status VARCHAR(50),
	tracking_number VARCHAR(100),
	email_sent BOOLEAN NOT NULL DEFAULT FALSE,
	shipping_notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS orders_payment_id_idx ON orders (payment_id);

CREATE TABLE IF NOT EXISTS order_items (
	id SERIAL PRIMARY KEY,
	order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	price NUMERIC(10, 2) NOT NULL
);
`

func InitDB(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Database connection established", zap.String("host", cfg.DBHost), zap.String("name", cfg.DBName))
	return db, nil
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}
