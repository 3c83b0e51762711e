package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Zhima-Mochi/coffeeshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
)

const productColumns = `id, name, description, price_minor, stock_quantity, available, category, image_path, created_at`

func scanProduct(row pgx.Row) (*catalog.Product, error) {
	var p catalog.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceMinor, &p.StockQuantity,
		&p.Available, &p.Category, &p.ImagePath, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProduct inserts a product or replaces every column of an existing one.
func (db *DB) UpsertProduct(ctx context.Context, p catalog.Product) error {
	query := `
		INSERT INTO products (id, name, description, price_minor, stock_quantity, available, category, image_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price_minor = EXCLUDED.price_minor,
			stock_quantity = EXCLUDED.stock_quantity,
			available = EXCLUDED.available,
			category = EXCLUDED.category,
			image_path = EXCLUDED.image_path
	`
	_, err := db.pool.Exec(ctx, query, p.ID, p.Name, p.Description, p.PriceMinor, p.StockQuantity,
		p.Available, p.Category, p.ImagePath)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

func (db *DB) ListProducts(ctx context.Context, onlyAvailable bool) ([]catalog.Product, error) {
	return db.QueryProducts(ctx, catalog.Query{OnlyAvailable: onlyAvailable})
}

func (db *DB) QueryProducts(ctx context.Context, q catalog.Query) ([]catalog.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if q.Sort == catalog.SortPopular {
		query += ` LEFT JOIN (SELECT product_id, COUNT(*) AS sold FROM orders GROUP BY product_id) s ON s.product_id = products.id`
	}

	var (
		where []string
		args  []any
	)
	if q.OnlyAvailable {
		where = append(where, `available`)
	}
	if q.Category != "" {
		args = append(args, q.Category)
		where = append(where, fmt.Sprintf(`category = $%d`, len(args)))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}

	switch q.Sort {
	case catalog.SortNewest:
		query += ` ORDER BY created_at DESC, id`
	case catalog.SortPopular:
		query += ` ORDER BY COALESCE(s.sold, 0) DESC, name, id`
	default:
		query += ` ORDER BY name, id`
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []catalog.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (db *DB) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	p, err := scanProduct(db.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

func (db *DB) GetStock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := db.pool.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&stock)
	if isNoRows(err) {
		return 0, inventory.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get stock %s: %w", productID, err)
	}
	return stock, nil
}

func (db *DB) GetStockBatch(ctx context.Context, productIDs []string) (map[string]inventory.Level, error) {
	out := make(map[string]inventory.Level, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	rows, err := db.pool.Query(ctx, `SELECT id, name, stock_quantity FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("get stock batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var lvl inventory.Level
		if err := rows.Scan(&lvl.ProductID, &lvl.Name, &lvl.Quantity); err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		out[lvl.ProductID] = lvl
	}
	return out, rows.Err()
}
