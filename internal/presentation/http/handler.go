package httppresentation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appcart "github.com/openbasket/commerce/internal/application/cart"
	apporder "github.com/openbasket/commerce/internal/application/order"
	appwebhook "github.com/openbasket/commerce/internal/application/webhook"
	domcart "github.com/openbasket/commerce/internal/domain/cart"
	domorder "github.com/openbasket/commerce/internal/domain/order"
	"github.com/openbasket/commerce/internal/domain/payment"
	domproduct "github.com/openbasket/commerce/internal/domain/product"
	"github.com/openbasket/commerce/internal/domain/storage"
	"github.com/openbasket/commerce/internal/observability"
	"github.com/openbasket/commerce/internal/pkg/logging"
)

const (
	headerShopperID = "X-Shopper-ID"
	headerRequestID = "X-Request-ID"
	headerSignature = "Stripe-Signature"

	maxBodyBytes = 1 << 20
)

type Handler struct {
	carts      *appcart.Service
	orders     *apporder.Service
	reconciler *appwebhook.Reconciler
	log        *zap.Logger
	metrics    *observability.Metrics
}

func NewHandler(carts *appcart.Service, orders *apporder.Service, reconciler *appwebhook.Reconciler,
	logger *zap.Logger, metrics *observability.Metrics,
) *Handler {
	return &Handler{
		carts:      carts,
		orders:     orders,
		reconciler: reconciler,
		log:        logger.With(zap.String("component", "http_server")),
		metrics:    metrics,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.withTrace)
	r.Use(h.withRequestLogger)
	r.Use(h.withMetrics)
	r.Use(h.withAccessLog)

	r.Get("/health", h.handleHealth)
	r.Post("/payments/webhook", h.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.withShopper)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.handleGetCart)
			r.Post("/", h.handleAddToCart)
			r.Delete("/", h.handleClearCart)
			r.Put("/{productID}", h.handleChangeQuantity)
			r.Delete("/{productID}", h.handleRemoveItem)
		})
		r.Post("/orders", h.handleCreateOrder)
		r.Get("/orders/{orderID}", h.handleGetOrder)
	})

	return r
}

type cartLineResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	LineTotal float64 `json:"lineTotal"`
}

type cartResponse struct {
	ID         string             `json:"id"`
	ShopperID  string             `json:"shopperId"`
	Items      []cartLineResponse `json:"items"`
	ItemsCount int                `json:"itemsCount"`
	TotalPrice float64            `json:"totalPrice"`
}

func toCartResponse(v *appcart.View) cartResponse {
	items := make([]cartLineResponse, 0, len(v.Lines))
	for _, line := range v.Lines {
		items = append(items, cartLineResponse{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     line.UnitPrice,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
		})
	}
	return cartResponse{
		ID:         v.CartID,
		ShopperID:  v.ShopperID,
		Items:      items,
		ItemsCount: v.ItemCount,
		TotalPrice: v.TotalPrice,
	}
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.Get(r.Context(), shopperFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(view))
}

type addItemEntry struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type addToCartRequest struct {
	ProductID string         `json:"productId"`
	Quantity  int            `json:"quantity"`
	Items     []addItemEntry `json:"items"`
}

func (h *Handler) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req addToCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entries := req.Items
	if len(entries) == 0 {
		entries = []addItemEntry{{ProductID: req.ProductID, Quantity: req.Quantity}}
	}
	inputs := make([]appcart.AddItemInput, 0, len(entries))
	for _, e := range entries {
		inputs = append(inputs, appcart.AddItemInput{ProductID: e.ProductID, Quantity: e.Quantity})
	}

	view, err := h.carts.AddItems(r.Context(), shopperFromContext(r.Context()), inputs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(view))
}

type changeQuantityRequest struct {
	Action string `json:"action"`
}

func (h *Handler) handleChangeQuantity(w http.ResponseWriter, r *http.Request) {
	var req changeQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var delta int
	switch req.Action {
	case "increment":
		delta = 1
	case "decrement":
		delta = -1
	default:
		writeError(w, http.StatusBadRequest, errors.New("action must be \"increment\" or \"decrement\""))
		return
	}

	view, err := h.carts.ChangeQuantity(r.Context(), shopperFromContext(r.Context()), chi.URLParam(r, "productID"), delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(view))
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.RemoveItem(r.Context(), shopperFromContext(r.Context()), chi.URLParam(r, "productID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(view))
}

func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.carts.Clear(r.Context(), shopperFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(view))
}

type createOrderRequest struct {
	ShippingAddress domorder.Address `json:"shippingAddress"`
	BillingAddress  domorder.Address `json:"billingAddress"`
}

type createOrderResponse struct {
	OrderID      string  `json:"orderId"`
	ClientSecret string  `json:"clientSecret"`
	Amount       float64 `json:"amount"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.orders.CreateOrder(r.Context(), apporder.CreateOrderInput{
		ShopperID:       shopperFromContext(r.Context()),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:      result.OrderID,
		ClientSecret: result.ClientSecret,
		Amount:       result.Amount,
	})
}

type orderResponse struct {
	OrderID         string           `json:"orderId"`
	Status          string           `json:"status"`
	PaymentStatus   string           `json:"paymentStatus"`
	TotalAmount     float64          `json:"totalAmount"`
	Items           []domorder.Item  `json:"items"`
	ShippingAddress domorder.Address `json:"shippingAddress"`
	BillingAddress  domorder.Address `json:"billingAddress"`
	PaymentIntentID string           `json:"paymentIntentId,omitempty"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := h.orders.Get(r.Context(), shopperFromContext(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{
		OrderID:         ord.ID,
		Status:          string(ord.Status),
		PaymentStatus:   string(ord.PaymentStatus),
		TotalAmount:     ord.TotalAmount,
		Items:           ord.Items,
		ShippingAddress: ord.ShippingAddress,
		BillingAddress:  ord.BillingAddress,
		PaymentIntentID: ord.PaymentIntentID,
	})
}

// handleWebhook never reveals order state to the unauthenticated caller:
// the response is an acknowledgment on success and a bare rejection when
// the signature does not verify.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("unreadable body"))
		return
	}

	err = h.reconciler.Handle(r.Context(), body, r.Header.Get(headerSignature))
	if errors.Is(err, payment.ErrInvalidSignature) {
		writeError(w, http.StatusBadRequest, errors.New("webhook signature verification failed"))
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("webhook_processing_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("webhook processing failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domproduct.ErrNotFound),
		errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, domcart.ErrItemNotInCart):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domproduct.ErrInsufficientStock),
		errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domcart.ErrInvalidQuantity),
		errors.Is(err, domcart.ErrEmpty),
		errors.Is(err, domorder.ErrAddressRequired),
		errors.Is(err, domorder.ErrInvalidQuantity),
		errors.Is(err, domorder.ErrProductUnavailable),
		errors.Is(err, domproduct.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, payment.ErrUnavailable),
		errors.Is(err, payment.ErrRejected):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
