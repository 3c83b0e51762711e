// Package catalog serves product browsing and the admin sales dashboard.
package catalog

import (
	"context"
	"fmt"
	"time"

	domcatalog "github.com/Zhima-Mochi/coffeeshop/internal/domain/catalog"
	"github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const catalogService = "catalog-service"

// StockView is the public stock answer for one product.
type StockView struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	InStock   bool   `json:"in_stock"`
}

type Service struct {
	products domcatalog.Browser
	ledger   inventory.Ledger
	sales    domorder.SalesReader
	tel      observability.Observability
	log      observability.Logger
	now      func() time.Time
	loc      *time.Location
}

type Option func(*Service)

// WithClock fixes the instant and zone used to derive the dashboard day and month.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewService(products domcatalog.Browser, ledger inventory.Ledger, sales domorder.SalesReader, tel observability.Observability, opts ...Option) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	s := &Service{
		products: products,
		ledger:   ledger,
		sales:    sales,
		tel:      tel,
		log:      tel.Logger().With(observability.F("service", catalogService)),
		now:      time.Now,
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the products q selects, by name unless q asks for newest or popular first.
func (s *Service) List(ctx context.Context, q domcatalog.Query) ([]domcatalog.Product, error) {
	if q.Sort == "" {
		q.Sort = domcatalog.SortName
	}
	products, err := s.products.QueryProducts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return products, nil
}

// Get returns one product or an error matching catalog.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*domcatalog.Product, error) {
	return s.products.GetProduct(ctx, id)
}

// Stock reads the ledger. Unknown products match inventory.ErrNotFound.
func (s *Service) Stock(ctx context.Context, id string) (StockView, error) {
	qty, err := s.ledger.GetStock(ctx, id)
	if err != nil {
		return StockView{}, err
	}
	return StockView{ProductID: id, Quantity: qty, InStock: qty > 0}, nil
}

// Dashboard summarises sales. Today starts at local midnight, the month on its first day.
func (s *Service) Dashboard(ctx context.Context) (*domorder.SalesSummary, error) {
	ctx, span := s.tel.Tracer().Start(ctx, "UC.SalesDashboard", attribute.String("use_case", "catalog.dashboard"))
	defer span.End()

	dayStart, monthStart := Periods(s.now(), s.loc)
	summary, err := s.sales.SalesSummary(ctx, dayStart, monthStart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SUMMARY_FAILED")
		logctx.FromOr(ctx, s.log).Error("dashboard_failed", observability.F("error", err))
		return nil, fmt.Errorf("catalog: sales summary: %w", err)
	}
	span.SetStatus(codes.Ok, "OK")
	return summary, nil
}

// Periods returns the start of now's day and month in loc.
func Periods(now time.Time, loc *time.Location) (dayStart, monthStart time.Time) {
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	dayStart = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	monthStart = time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, loc)
	return dayStart, monthStart
}
