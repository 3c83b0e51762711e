package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
)

// Place runs the whole placement in one transaction. Product rows are locked in id order
// so concurrent placements over overlapping products cannot deadlock.
func (db *DB) Place(ctx context.Context, req order.PlacementRequest) (*order.Placement, error) {
	if len(req.Lines) == 0 {
		return nil, order.ErrEmptyOrder
	}
	if req.Email == "" {
		return nil, fmt.Errorf("order repository: %w: email is required", order.ErrValidation)
	}

	items := make([]order.LineItem, 0, len(req.Lines))
	for _, l := range req.Lines {
		items = append(items, l.Item)
	}
	ids := order.ProductIDs(items)
	demand := order.Demand(items)

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin placement: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	levels, err := lockLevels(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	var shortages []inventory.Shortage
	for _, id := range ids {
		lvl, ok := levels[id]
		if !ok {
			shortages = append(shortages, inventory.Shortage{ProductID: id, Requested: demand[id]})
			continue
		}
		if !lvl.Covers(demand[id]) {
			shortages = append(shortages, inventory.Shortage{
				ProductID: id, Name: lvl.Name, Requested: demand[id], Available: lvl.Quantity,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, &inventory.ShortageError{Items: shortages}
	}

	if req.RejectOwned {
		owned, err := ownedProducts(ctx, tx, req.Email, ids)
		if err != nil {
			return nil, err
		}
		if len(owned) > 0 {
			labels := make([]string, 0, len(owned))
			for _, id := range owned {
				label := id
				if name := levels[id].Name; name != "" {
					label = name
				}
				labels = append(labels, label)
			}
			return nil, &order.DuplicateError{Items: labels}
		}
	}

	user, err := upsertUser(ctx, tx, req)
	if err != nil {
		return nil, err
	}

	placement := &order.Placement{
		User:      *user,
		Orders:    make([]order.Order, 0, len(req.Lines)),
		Remaining: make(map[string]int, len(ids)),
	}
	for _, l := range req.Lines {
		o, err := order.New(l.OrderID, user.ID, l.Item.ProductID, l.Item.Quantity, l.Item.Total(), req.At)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO orders (id, user_id, product_id, quantity, price_paid, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, o.ID, o.UserID, o.ProductID, o.Quantity, o.PricePaid, o.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert order %s: %w", o.ID, err)
		}
		placement.Orders = append(placement.Orders, *o)
	}

	for _, id := range ids {
		var remaining int
		err := tx.QueryRow(ctx,
			`UPDATE products SET stock_quantity = stock_quantity - $2 WHERE id = $1 RETURNING stock_quantity`,
			id, demand[id]).Scan(&remaining)
		if err != nil {
			return nil, fmt.Errorf("decrement stock %s: %w", id, err)
		}
		placement.Remaining[id] = remaining
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit placement: %w", err)
	}
	return placement, nil
}

func lockLevels(ctx context.Context, tx pgx.Tx, ids []string) (map[string]inventory.Level, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, name, stock_quantity FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	levels := make(map[string]inventory.Level, len(ids))
	for rows.Next() {
		var lvl inventory.Level
		if err := rows.Scan(&lvl.ProductID, &lvl.Name, &lvl.Quantity); err != nil {
			return nil, fmt.Errorf("scan locked product: %w", err)
		}
		levels[lvl.ProductID] = lvl
	}
	return levels, rows.Err()
}

// ownedProducts runs after the product rows are locked, so a concurrent placement of the
// same product by the same buyer has either committed or not started.
func ownedProducts(ctx context.Context, tx pgx.Tx, email string, ids []string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT o.product_id FROM orders o JOIN users u ON u.id = o.user_id
		WHERE u.email = $1 AND o.product_id = ANY($2)
		ORDER BY o.product_id
	`, email, ids)
	if err != nil {
		return nil, fmt.Errorf("owned products: %w", err)
	}
	defer rows.Close()

	var owned []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owned product: %w", err)
		}
		owned = append(owned, id)
	}
	return owned, rows.Err()
}

func upsertUser(ctx context.Context, tx pgx.Tx, req order.PlacementRequest) (*order.User, error) {
	if req.CandidateUserID == "" {
		return nil, errors.New("order repository: candidate user id is required")
	}
	var u order.User
	err := tx.QueryRow(ctx, `
		INSERT INTO users (id, email, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, created_at
	`, req.CandidateUserID, req.Email, req.At.UTC()).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &u, nil
}

func (db *DB) HasPurchased(ctx context.Context, email, productID string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders o JOIN users u ON u.id = o.user_id
			WHERE u.email = $1 AND o.product_id = $2
		)
	`, email, productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has purchased: %w", err)
	}
	return exists, nil
}

func (db *DB) CreateDownloadVerification(ctx context.Context, v *order.DownloadVerification) error {
	if v == nil || v.ID == "" {
		return errors.New("order repository: verification id is required")
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO download_verifications (id, product_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, v.ID, v.ProductID, v.CreatedAt, v.ExpiresAt)
	if isUniqueViolation(err) {
		return order.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create download verification: %w", err)
	}
	return nil
}

// GetDownloadVerification loads a verification by id.
func (db *DB) GetDownloadVerification(ctx context.Context, id string) (*order.DownloadVerification, error) {
	var v order.DownloadVerification
	err := db.pool.QueryRow(ctx,
		`SELECT id, product_id, created_at, expires_at FROM download_verifications WHERE id = $1`, id).
		Scan(&v.ID, &v.ProductID, &v.CreatedAt, &v.ExpiresAt)
	if isNoRows(err) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get download verification: %w", err)
	}
	return &v, nil
}

func (db *DB) SalesSummary(ctx context.Context, dayStart, monthStart time.Time) (*order.SalesSummary, error) {
	var s order.SalesSummary
	err := db.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(price_paid), 0)::BIGINT, COUNT(*),
			COALESCE(SUM(price_paid) FILTER (WHERE created_at >= $1), 0)::BIGINT, COUNT(*) FILTER (WHERE created_at >= $1),
			COALESCE(SUM(price_paid) FILTER (WHERE created_at >= $2), 0)::BIGINT, COUNT(*) FILTER (WHERE created_at >= $2)
		FROM orders
	`, dayStart, monthStart).Scan(
		&s.Total.AmountMinor, &s.Total.Orders,
		&s.Today.AmountMinor, &s.Today.Orders,
		&s.Month.AmountMinor, &s.Month.Orders,
	)
	if err != nil {
		return nil, fmt.Errorf("sales totals: %w", err)
	}

	err = db.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM products WHERE available),
			(SELECT COUNT(*) FROM products WHERE NOT available)
	`).Scan(&s.Users, &s.AvailableProducts, &s.UnavailableProducts)
	if err != nil {
		return nil, fmt.Errorf("sales counts: %w", err)
	}
	if s.Users > 0 {
		s.AverageValuePerUser = s.Total.AmountMinor / int64(s.Users)
	}
	return &s, nil
}
