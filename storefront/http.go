package storefront

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/schema"
	log "github.com/sirupsen/logrus"
	"go.storefront.dev/core/async"
	"go.storefront.dev/core/cart"
	"go.storefront.dev/core/checkout"
	"go.storefront.dev/core/command"
	"go.storefront.dev/core/storage"
)

// Request parameters, decoded from URL queries.
type (
	contextRequest struct {
		BaseSite string `schema:"baseSite"`
		Language string `schema:"language"`
		Currency string `schema:"currency"`
	}
	entryRequest struct {
		Product  string `schema:"product,required"`
		Quantity int    `schema:"quantity,default:1"`
	}
	loadCartRequest struct {
		Cart string `schema:"cart,required"`
	}
	deliveryModeRequest struct {
		Code string `schema:"code,required"`
	}
	paymentTypeRequest struct {
		Code string `schema:"code,required"`
		PO   string `schema:"po"`
	}
	placeOrderRequest struct {
		Terms bool `schema:"terms"`
	}
	storageRequest struct {
		Prefix string `schema:"prefix"`
		Type   string `schema:"type,default:local"`
	}
)

// StateResponse is the JSON response of GET /state.
type StateResponse struct {
	BaseSite string          `json:"baseSite"`
	Language string          `json:"language"`
	Currency string          `json:"currency"`
	Cart     *cart.Cart      `json:"cart,omitempty"`
	Checkout *checkout.State `json:"checkout,omitempty"`
	Order    *checkout.Order `json:"order,omitempty"`
}

// StorageItem is an element of the JSON response of GET /debug/storage.
type StorageItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type handler struct {
	rt      *Runtime
	decoder *schema.Decoder
}

// NewHandler returns an http.Handler of the Runtime's HTTP API.
func NewHandler(rt *Runtime) http.Handler {
	var h = &handler{rt: rt, decoder: schema.NewDecoder()}
	h.decoder.IgnoreUnknownKeys(true)

	var mux = http.NewServeMux()
	mux.HandleFunc("GET /state", h.serveState)
	mux.HandleFunc("POST /context", h.serveContext)
	mux.HandleFunc("POST /cart/entries", h.serveAddEntry)
	mux.HandleFunc("POST /cart/load", h.serveLoadCart)
	mux.HandleFunc("POST /checkout/delivery-mode", h.serveDeliveryMode)
	mux.HandleFunc("POST /checkout/payment-type", h.servePaymentType)
	mux.HandleFunc("POST /checkout/place-order", h.servePlaceOrder)
	mux.HandleFunc("GET /debug/storage", h.serveStorage)
	return mux
}

func (h *handler) serveState(w http.ResponseWriter, _ *http.Request) {
	var site, sc = h.rt.Site.Active()
	var resp = StateResponse{BaseSite: site, Language: sc.Language, Currency: sc.Currency}

	if st, ok := h.rt.Carts.Snapshot(); ok && st.Active != "" {
		if c, ok := st.Carts[st.Active]; ok {
			resp.Cart = &c
		} else {
			resp.Cart = &cart.Cart{ID: st.Active} // Active, but not loaded.
		}
	}
	if st, ok := h.rt.Checkout.Snapshot(); ok {
		resp.Order, st.Order = st.Order, nil
		resp.Checkout = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) serveContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !h.decode(w, r, &req) {
		return
	}
	var err error
	if req.BaseSite != "" {
		err = h.rt.Site.SetBaseSite(req.BaseSite)
	}
	if req.Language != "" && err == nil {
		err = h.rt.Site.SetLanguage(req.Language)
	}
	if req.Currency != "" && err == nil {
		err = h.rt.Site.SetCurrency(req.Currency)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.serveState(w, r)
}

func (h *handler) serveAddEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if h.decode(w, r, &req) {
		writeResult(w, r, h.rt.Carts.AddEntry(r.Context(), req.Product, req.Quantity))
	}
}

func (h *handler) serveLoadCart(w http.ResponseWriter, r *http.Request) {
	var req loadCartRequest
	if h.decode(w, r, &req) {
		writeResult(w, r, h.rt.Carts.LoadCart(r.Context(), req.Cart))
	}
}

func (h *handler) serveDeliveryMode(w http.ResponseWriter, r *http.Request) {
	var req deliveryModeRequest
	if h.decode(w, r, &req) {
		writeResult(w, r, h.rt.Checkout.SetDeliveryMode(r.Context(), req.Code))
	}
}

func (h *handler) servePaymentType(w http.ResponseWriter, r *http.Request) {
	var req paymentTypeRequest
	if h.decode(w, r, &req) {
		writeResult(w, r, h.rt.Checkout.SetPaymentType(r.Context(),
			checkout.PaymentDetails{Type: req.Code, PONumber: req.PO}))
	}
}

func (h *handler) servePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if h.decode(w, r, &req) {
		writeResult(w, r, h.rt.Checkout.PlaceOrder(r.Context(), req.Terms))
	}
}

func (h *handler) serveStorage(w http.ResponseWriter, r *http.Request) {
	var req storageRequest
	if !h.decode(w, r, &req) {
		return
	}
	var st, err = storage.ParseSyncType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var items = []StorageItem{}

	var backend = h.rt.Backend(st)
	if backend == nil {
		writeJSON(w, http.StatusOK, items) // No storage: nothing is stored.
		return
	}
	var lister, ok = backend.(storage.Lister)
	if !ok {
		writeError(w, http.StatusNotImplemented, errors.New("storage does not support listing"))
		return
	}
	keys, err := lister.Keys(req.Prefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, key := range keys {
		if value, ok, err := backend.GetItem(key); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		} else if ok {
			items = append(items, StorageItem{Key: key, Value: value})
		}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := h.decoder.Decode(into, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// writeResult awaits |res| and writes its outcome.
func writeResult[T any](w http.ResponseWriter, r *http.Request, res *async.Result[T]) {
	select {
	case <-res.Done():
	case <-r.Context().Done():
		return // Client is gone. Its invocation is cancelled with its Context.
	}

	if v, ok := res.Value(); ok {
		writeJSON(w, http.StatusOK, v)
		return
	}
	var err = res.Err()

	switch {
	case res.Cancelled():
		writeJSON(w, http.StatusConflict, map[string]string{"outcome": res.Outcome().String()})
	case errors.Is(err, command.ErrSuperseded):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, cart.ErrNoActiveCart), errors.Is(err, checkout.ErrTermsNotAccepted):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Warn("failed to write response")
	}
}
