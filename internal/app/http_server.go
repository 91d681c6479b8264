package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/order"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/product"
)

// NewRouter собирает HTTP API всех контекстов.
func NewRouter(deps *Dependencies) http.Handler {
	api := &apiHandlers{deps: deps, logger: deps.Logger.WithField("layer", "http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", api.placeOrder)
			r.Get("/{id}", api.getOrder)
			r.Get("/{id}/timeline", api.getOrderTimeline)
			r.Get("/{id}/payment", api.getOrderPayment)
		})
		r.Get("/customers/{id}/orders", api.listCustomerOrders)

		r.Route("/products", func(r chi.Router) {
			r.Post("/", api.createProduct)
			r.Get("/{id}", api.getProduct)
			r.Put("/{id}/price", api.updateProductPrice)
			r.Post("/{id}/activate", api.activateProduct)
			r.Post("/{id}/deactivate", api.deactivateProduct)
			r.Delete("/{id}", api.deleteProduct)
		})

		r.Route("/stock/{sku}", func(r chi.Router) {
			r.Get("/", api.getStock)
			r.Put("/", api.setStock)
			r.Post("/adjust", api.adjustStock)
		})
	})

	return r
}

type apiHandlers struct {
	deps   *Dependencies
	logger *log.Entry
}

func (h *apiHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	var cmd order.PlaceOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.writeError(w, errors.Join(domain.ErrInvalidCommand, err))
		return
	}

	placed, err := h.deps.Orders.PlaceOrder(r.Context(), cmd)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, orderResponse(placed))
}

func (h *apiHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	found, err := h.deps.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponse(found))
}

func (h *apiHandlers) getOrderTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.deps.Orders.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *apiHandlers) getOrderPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.deps.Payments.GetByOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"payment_id":   payment.ID,
		"order_id":     payment.OrderID,
		"status":       string(payment.Status),
		"amount_minor": payment.AmountMinor,
		"currency":     payment.Currency,
		"reason":       payment.Reason,
	})
}

func (h *apiHandlers) listCustomerOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, domain.ErrInvalidCommand)
			return
		}
		limit = n
	}

	orders, err := h.deps.Orders.ListByCustomer(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		payload = append(payload, orderResponse(o))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"orders": payload})
}

func (h *apiHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var cmd product.CreateProductCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.writeError(w, errors.Join(domain.ErrInvalidCommand, err))
		return
	}

	created, err := h.deps.Products.CreateProduct(r.Context(), cmd)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, productResponse(created))
}

func (h *apiHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	found, err := h.deps.Products.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, productResponse(found))
}

func (h *apiHandlers) updateProductPrice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PriceMinor int64 `json:"price_minor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.Join(domain.ErrInvalidCommand, err))
		return
	}

	updated, err := h.deps.Products.UpdatePrice(r.Context(), chi.URLParam(r, "id"), body.PriceMinor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, productResponse(updated))
}

func (h *apiHandlers) activateProduct(w http.ResponseWriter, r *http.Request) {
	h.mutateProduct(w, r, h.deps.Products.Activate)
}

func (h *apiHandlers) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	h.mutateProduct(w, r, h.deps.Products.Deactivate)
}

func (h *apiHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	h.mutateProduct(w, r, h.deps.Products.Delete)
}

func (h *apiHandlers) mutateProduct(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id string) (domain.Product, error),
) {
	mutated, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, productResponse(mutated))
}

func (h *apiHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	item, err := h.deps.Inventory.GetStock(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stockResponse(item))
}

func (h *apiHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OnHand int32 `json:"on_hand"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.Join(domain.ErrInvalidCommand, err))
		return
	}

	sku := chi.URLParam(r, "sku")
	if err := h.deps.Inventory.SetStock(r.Context(), sku, body.OnHand); err != nil {
		h.writeError(w, err)
		return
	}
	item, err := h.deps.Inventory.GetStock(r.Context(), sku)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stockResponse(item))
}

func (h *apiHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Delta int32 `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.Join(domain.ErrInvalidCommand, err))
		return
	}

	item, err := h.deps.Inventory.AdjustStock(r.Context(), chi.URLParam(r, "sku"), body.Delta)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stockResponse(item))
}

func orderResponse(o domain.Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, map[string]any{
			"sku":         item.SKU,
			"qty":         item.Qty,
			"price_minor": item.PriceMinor,
		})
	}
	return map[string]any{
		"order_id":      o.ID,
		"customer_id":   o.CustomerID,
		"status":        string(o.Status),
		"amount_minor":  o.AmountMinor,
		"currency":      o.Currency,
		"cancel_reason": o.CancelReason,
		"items":         items,
		"created_at":    o.CreatedAt,
	}
}

func productResponse(p domain.Product) map[string]any {
	return map[string]any{
		"product_id":  p.ID,
		"name":        p.Name,
		"price_minor": p.PriceMinor,
		"currency":    p.Currency,
		"status":      string(p.Status),
	}
}

func stockResponse(item domain.StockItem) map[string]any {
	return map[string]any{
		"sku":     item.SKU,
		"on_hand": item.OnHand,
	}
}

func (h *apiHandlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Warn("failed to encode http response")
	}
}

func (h *apiHandlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidCommand),
		errors.Is(err, domain.ErrQtyNotPositive),
		domain.IsInsufficientInventory(err):
		status = http.StatusBadRequest
	case isNotFound(err):
		status = http.StatusNotFound
	case domain.IsInvalidTransition(err), domain.IsVersionConflict(err), errors.Is(err, domain.ErrAlreadyExists):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, domain.ErrProductNotFound) ||
		errors.Is(err, domain.ErrStockNotFound) ||
		errors.Is(err, domain.ErrPaymentNotFound) ||
		errors.Is(err, domain.ErrReservationNotFound)
}
