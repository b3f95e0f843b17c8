package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appcatalog "github.com/levelupgamer/backend/internal/application/catalog"
	apporder "github.com/levelupgamer/backend/internal/application/order"
	domaincatalog "github.com/levelupgamer/backend/internal/domain/catalog"
	"github.com/levelupgamer/backend/internal/domain/identity"
	domainorder "github.com/levelupgamer/backend/internal/domain/order"
)

const (
	headerUserID    = "X-User-ID"
	headerUserRoles = "X-User-Roles"
)

// Handler exposes the order and payment flows over JSON. Caller identity
// arrives in trusted headers set by the edge proxy after token validation.
type Handler struct {
	orders  *apporder.Service
	catalog *appcatalog.Service
	log     *zap.Logger
}

func NewHandler(orders *apporder.Service, catalog *appcatalog.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{orders: orders, catalog: catalog, log: log.With(zap.String("component", "http_server"))}
}

func (h *Handler) Routes(mw ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, m := range mw {
		r.Use(m)
	}

	r.Get("/health", h.handleHealth)
	r.Get("/payment/return", h.handlePaymentReturn)

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.handleCreateOrder)
		r.Post("/orders/init", h.handleInitOrder)
		r.Get("/orders", h.handleListOrders)
		r.Get("/orders/{id}", h.handleGetOrder)
		r.Get("/admin/orders", h.handleListAllOrders)
		r.Post("/payments/callback", h.handlePaymentCallback)
		r.Get("/payments/{token}/status", h.handlePaymentStatus)
		r.Get("/products/{id}/availability", h.handleAvailability)
	})

	return r
}

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Items           []orderItemRequest `json:"items"`
	IncludeShipping bool               `json:"include_shipping"`
}

type orderLineResponse struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

type orderResponse struct {
	OrderID           string              `json:"order_id"`
	Status            domainorder.Status  `json:"status"`
	Subtotal          int64               `json:"subtotal"`
	Tax               int64               `json:"tax"`
	Shipping          int64               `json:"shipping"`
	Total             int64               `json:"total"`
	Token             string              `json:"token,omitempty"`
	AuthorizationCode string              `json:"authorization_code,omitempty"`
	PaymentMessage    string              `json:"payment_message,omitempty"`
	FailureReason     string              `json:"failure_reason,omitempty"`
	Lines             []orderLineResponse `json:"lines,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing caller identity"))
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.orders.CreateOrderSync(r.Context(), apporder.CreateOrderInput{
		OwnerID:         caller,
		Items:           toItemInputs(req.Items),
		IncludeShipping: req.IncludeShipping,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, orderResponse{
		OrderID:           result.OrderID,
		Status:            result.Status,
		Subtotal:          result.Subtotal,
		Tax:               result.Tax,
		Shipping:          result.Shipping,
		Total:             result.Total,
		Token:             result.ExternalToken,
		AuthorizationCode: result.AuthorizationCode,
		PaymentMessage:    result.PaymentMessage,
		Lines:             toLineResponses(result.Lines),
		CreatedAt:         result.CreatedAt,
	})
}

type initOrderResponse struct {
	OrderID     string `json:"order_id"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
	Subtotal    int64  `json:"subtotal"`
	Tax         int64  `json:"tax"`
	Shipping    int64  `json:"shipping"`
	Total       int64  `json:"total"`
}

func (h *Handler) handleInitOrder(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing caller identity"))
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.orders.InitOrderAsync(r.Context(), apporder.CreateOrderInput{
		OwnerID:         caller,
		Items:           toItemInputs(req.Items),
		IncludeShipping: req.IncludeShipping,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, initOrderResponse{
		OrderID:     result.OrderID,
		Token:       result.Token,
		RedirectURL: result.RedirectURL,
		Subtotal:    result.Subtotal,
		Tax:         result.Tax,
		Shipping:    result.Shipping,
		Total:       result.Total,
	})
}

type callbackRequest struct {
	Token  string `json:"token"`
	Status string `json:"status"`
}

type callbackResponse struct {
	Message string             `json:"message"`
	OrderID string             `json:"order_id"`
	Status  domainorder.Status `json:"status"`
	Total   int64              `json:"total"`
}

func (h *Handler) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, errors.New("token is required"))
		return
	}

	result, err := h.orders.HandleCallback(r.Context(), req.Token, req.Status)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{
		Message: result.Message,
		OrderID: result.OrderID,
		Status:  result.Status,
		Total:   result.Total,
	})
}

// handlePaymentReturn lands the customer's browser after the provider's
// payment page. A token_ws (or plain token) means the flow finished and is
// confirmed against the gateway; a bare TBK_TOKEN means the customer
// aborted and the order is closed as such.
func (h *Handler) handlePaymentReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	token := q.Get("token_ws")
	if token == "" {
		token = q.Get("token")
	}

	if token == "" {
		aborted := q.Get("TBK_TOKEN")
		if aborted == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing payment token"))
			return
		}
		result, err := h.orders.HandleCallback(r.Context(), aborted, "ABORTED")
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, callbackResponse{
			Message: result.Message,
			OrderID: result.OrderID,
			Status:  result.Status,
			Total:   result.Total,
		})
		return
	}

	result, err := h.orders.ConfirmPayment(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callbackResponse{
		Message: result.Message,
		OrderID: result.OrderID,
		Status:  result.Status,
		Total:   result.Total,
	})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing caller identity"))
		return
	}

	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"), caller, callerRoles(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing caller identity"))
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

type pagedOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int64           `json:"total"`
	Page   int             `json:"page"`
	Size   int             `json:"size"`
}

func (h *Handler) handleListAllOrders(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)

	orders, total, err := h.orders.ListAllOrders(r.Context(), callerRoles(r), page, size)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, pagedOrdersResponse{Orders: out, Total: total, Page: page, Size: size})
}

type paymentStatusResponse struct {
	OrderID    string             `json:"order_id"`
	Token      string             `json:"token"`
	Status     domainorder.Status `json:"status"`
	Subtotal   int64              `json:"subtotal"`
	Tax        int64              `json:"tax"`
	Shipping   int64              `json:"shipping"`
	Total      int64              `json:"total"`
	ItemsCount int                `json:"items_count"`
	CreatedAt  time.Time          `json:"created_at"`
}

func (h *Handler) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.orders.GetPaymentStatus(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentStatusResponse{
		OrderID:    status.OrderID,
		Token:      status.Token,
		Status:     status.Status,
		Subtotal:   status.Subtotal,
		Tax:        status.Tax,
		Shipping:   status.Shipping,
		Total:      status.Total,
		ItemsCount: status.ItemsCount,
		CreatedAt:  status.CreatedAt,
	})
}

type availabilityResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Stock     int    `json:"stock"`
	Available bool   `json:"available"`
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	qty := queryInt(r, "quantity", 1)

	av, err := h.catalog.CheckAvailability(r.Context(), chi.URLParam(r, "id"), qty)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, availabilityResponse{
		ProductID: av.ProductID,
		Name:      av.Name,
		UnitPrice: av.UnitPrice,
		Stock:     av.Stock,
		Available: av.Available,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func callerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerUserID))
}

func callerRoles(r *http.Request) identity.Roles {
	raw := strings.Split(r.Header.Get(headerUserRoles), ",")
	for i := range raw {
		raw[i] = strings.TrimSpace(raw[i])
	}
	return identity.Parse(raw)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func toItemInputs(items []orderItemRequest) []apporder.ItemInput {
	out := make([]apporder.ItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, apporder.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

func toLineResponses(lines []domainorder.Line) []orderLineResponse {
	out := make([]orderLineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, orderLineResponse{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return out
}

func toOrderResponse(o *domainorder.Order) orderResponse {
	return orderResponse{
		OrderID:       o.ID,
		Status:        o.Status,
		Subtotal:      o.Subtotal,
		Tax:           o.Tax,
		Shipping:      o.Shipping,
		Total:         o.Total,
		Token:         o.ExternalToken,
		FailureReason: o.FailureReason,
		Lines:         toLineResponses(o.Lines),
		CreatedAt:     o.CreatedAt,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
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
	case errors.Is(err, domainorder.ErrNotFound),
		errors.Is(err, domaincatalog.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domainorder.ErrEmptyItems),
		errors.Is(err, domainorder.ErrInvalidQuantity),
		errors.Is(err, domainorder.ErrInvalidUnitPrice),
		errors.Is(err, domaincatalog.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domaincatalog.ErrInsufficientStock),
		errors.Is(err, domainorder.ErrInvalidStateTransition),
		errors.Is(err, domainorder.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, apporder.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
