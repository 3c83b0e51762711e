// Package httppresentation exposes the storefront over HTTP.
package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Zhima-Mochi/coffeeshop/internal/application"
	appcart "github.com/Zhima-Mochi/coffeeshop/internal/application/cart"
	appcatalog "github.com/Zhima-Mochi/coffeeshop/internal/application/catalog"
	apporder "github.com/Zhima-Mochi/coffeeshop/internal/application/order"
	apppayment "github.com/Zhima-Mochi/coffeeshop/internal/application/payment"
	domcart "github.com/Zhima-Mochi/coffeeshop/internal/domain/cart"
	domcatalog "github.com/Zhima-Mochi/coffeeshop/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/coffeeshop/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/coffeeshop/internal/domain/order"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability"
	"github.com/Zhima-Mochi/coffeeshop/internal/observability/logctx"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerStripeSig      = "Stripe-Signature"
	maxWebhookBytes      = 1 << 20
)

type OrderService interface {
	PurchaseProduct(ctx context.Context, in apporder.PurchaseProductInput) apporder.Result
}

type CartSessions interface {
	Get(ctx context.Context, sessionID string) (domcart.State, error)
	Apply(ctx context.Context, sessionID string, a domcart.Action) (domcart.State, error)
	Checkout(ctx context.Context, sessionID, email string) (apporder.Result, error)
}

type Catalog interface {
	List(ctx context.Context, q domcatalog.Query) ([]domcatalog.Product, error)
	Get(ctx context.Context, id string) (*domcatalog.Product, error)
	Stock(ctx context.Context, id string) (appcatalog.StockView, error)
	Dashboard(ctx context.Context) (*domorder.SalesSummary, error)
}

type WebhookUseCase = application.UseCase[apppayment.HandleWebhookInput, *apppayment.HandleWebhookResult]

type Handler struct {
	orders   OrderService
	carts    CartSessions
	catalog  Catalog
	webhooks WebhookUseCase
	metrics  http.Handler
	ready    func(context.Context) error
	log      observability.Logger
	tel      observability.Observability
}

type Option func(*Handler)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(x *Handler) { x.metrics = h }
}

// WithReadiness makes GET /health report the check's error with 503.
func WithReadiness(check func(context.Context) error) Option {
	return func(x *Handler) { x.ready = check }
}

func NewHandler(
	orders OrderService,
	carts CartSessions,
	catalog Catalog,
	webhooks WebhookUseCase,
	tel observability.Observability,
	opts ...Option,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	h := &Handler{
		orders:   orders,
		carts:    carts,
		catalog:  catalog,
		webhooks: webhooks,
		log:      tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:      tel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	h.handle(r, http.MethodGet, "/health", h.handleHealth)
	h.handle(r, http.MethodGet, "/products", h.handleListProducts)
	h.handle(r, http.MethodGet, "/products/{id}", h.handleGetProduct)
	h.handle(r, http.MethodGet, "/products/{id}/stock", h.handleGetStock)
	h.handle(r, http.MethodPost, "/orders", h.handlePurchase)
	h.handle(r, http.MethodGet, "/cart/{session}", h.handleGetCart)
	h.handle(r, http.MethodPost, "/cart/{session}/actions", h.handleCartAction)
	h.handle(r, http.MethodPost, "/cart/{session}/checkout", h.handleCheckout)
	h.handle(r, http.MethodPost, "/webhooks/stripe", h.handleStripeWebhook)
	h.handle(r, http.MethodGet, "/admin/dashboard", h.handleDashboard)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	return r
}

// handle wires a route as Route → Request Logger + Metrics → Trace → Access Log → Handler.
func (h *Handler) handle(r chi.Router, method, pattern string, fn http.HandlerFunc) {
	route := method + " " + pattern
	chain := ObservabilityMiddleware(h.log, func(r *http.Request) string {
		return r.Header.Get(headerRequestID)
	}, h.tel)(withTrace(h.tel, withAccessLog(h.log, fn)))

	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		chain.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), route)))
	}))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type productResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	PriceMinor    int64  `json:"price_minor"`
	StockQuantity int    `json:"stock_quantity"`
	Available     bool   `json:"available"`
	InStock       bool   `json:"in_stock"`
	Category      string `json:"category,omitempty"`
	ImagePath     string `json:"image_path,omitempty"`
}

func toProductResponse(p domcatalog.Product) productResponse {
	return productResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		PriceMinor:    p.PriceMinor,
		StockQuantity: p.StockQuantity,
		Available:     p.Available,
		InStock:       p.InStock(),
		Category:      p.Category,
		ImagePath:     p.ImagePath,
	}
}

// handleListProducts serves GET /products?available=&category=&sort=name|newest|popular&limit=.
func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := domcatalog.Query{OnlyAvailable: true, Category: params.Get("category")}
	if v := params.Get("available"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("available: %w", err))
			return
		}
		q.OnlyAvailable = b
	}
	by, err := domcatalog.ParseSort(params.Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q.Sort = by
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		q.Limit = n
	}

	products, err := h.catalog.List(r.Context(), q)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(*p))
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	v, err := h.catalog.Stock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type purchaseRequest struct {
	ProductID string            `json:"product_id"`
	Quantity  int               `json:"quantity"`
	Email     string            `json:"email"`
	Shipping  domorder.Shipping `json:"shipping"`
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res := h.orders.PurchaseProduct(r.Context(), apporder.PurchaseProductInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Email:     req.Email,
		Shipping:  req.Shipping,
	})
	writeJSON(w, statusForResult(res), res)
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	st, err := h.carts.Get(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleCartAction(w http.ResponseWriter, r *http.Request) {
	var action domcart.Action
	if err := decodeJSON(r, &action); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := h.carts.Apply(r.Context(), chi.URLParam(r, "session"), action)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type checkoutRequest struct {
	Email string `json:"email"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.carts.Checkout(r.Context(), chi.URLParam(r, "session"), req.Email)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, statusForResult(res), res)
}

type webhookResponse struct {
	Received  bool             `json:"received"`
	EventID   string           `json:"event_id,omitempty"`
	Ignored   bool             `json:"ignored,omitempty"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Purchase  *apporder.Result `json:"purchase,omitempty"`
}

func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.webhooks.Execute(r.Context(), apppayment.HandleWebhookInput{
		Payload:   payload,
		Signature: r.Header.Get(headerStripeSig),
	})
	if errors.Is(err, apppayment.ErrEventLog) {
		logctx.FromOr(r.Context(), h.log).Error("webhook_event_log_failed", observability.F("error", err))
		writeError(w, http.StatusServiceUnavailable, errors.New("try again later"))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	body := webhookResponse{
		Received:  true,
		EventID:   res.EventID,
		Ignored:   res.Ignored,
		Duplicate: res.Duplicate,
		Purchase:  res.Purchase,
	}
	if res.Purchase != nil && !res.Purchase.Success {
		writeJSON(w, http.StatusBadRequest, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type totalsResponse struct {
	AmountMinor int64 `json:"amount_minor"`
	Orders      int   `json:"orders"`
}

type dashboardResponse struct {
	Total                    totalsResponse `json:"total"`
	Today                    totalsResponse `json:"today"`
	Month                    totalsResponse `json:"month"`
	Users                    int            `json:"users"`
	AverageValuePerUserMinor int64          `json:"average_value_per_user_minor"`
	Products                 struct {
		Available   int `json:"available"`
		Unavailable int `json:"unavailable"`
	} `json:"products"`
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := h.catalog.Dashboard(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	resp := dashboardResponse{
		Total:                    totalsResponse(sum.Total),
		Today:                    totalsResponse(sum.Today),
		Month:                    totalsResponse(sum.Month),
		Users:                    sum.Users,
		AverageValuePerUserMinor: sum.AverageValuePerUser,
	}
	resp.Products.Available = sum.AvailableProducts
	resp.Products.Unavailable = sum.UnavailableProducts
	writeJSON(w, http.StatusOK, resp)
}

func statusForResult(res apporder.Result) int {
	if res.Success {
		return http.StatusCreated
	}
	switch res.Kind {
	case apporder.KindValidation:
		return http.StatusBadRequest
	case apporder.KindNotFound:
		return http.StatusNotFound
	case apporder.KindInsufficientStock, apporder.KindDuplicatePurchase:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logctx.FromOr(r.Context(), h.log).Error("request_failed", observability.F("error", err))
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domcatalog.ErrNotFound),
		errors.Is(err, dominv.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, appcart.ErrInvalidSession),
		errors.Is(err, appcart.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, err)
	default:
		h.internalError(w, r, err)
	}
}
