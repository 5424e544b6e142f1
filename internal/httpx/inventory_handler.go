package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hilmist/OrderService/internal/adminauth"
	"github.com/hilmist/OrderService/internal/inventory"
)

type setStockReq struct {
	Qty int `json:"qty"`
}

type setFlashSaleReq struct {
	ProductIDs []string `json:"productIds"`
}

// InventoryHandler exposes the reservation engine's admin surface:
// stock visibility is public, mutation is gated behind AdminAuth.
type InventoryHandler struct {
	Engine    *inventory.Engine
	Cache     *inventory.Cache
	AdminAuth *adminauth.Authenticator
}

func (h *InventoryHandler) Register(r *chi.Mux) {
	r.Get("/inventory/{product}", h.checkAvailability)
	r.Group(func(admin chi.Router) {
		admin.Use(h.AdminAuth.Middleware)
		admin.Put("/inventory/{product}/stock", h.setStock)
		admin.Put("/inventory/flash-sale", h.setFlashSale)
	})
}

func (h *InventoryHandler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	n, err := h.Cache.Available(r.Context(), product)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"productId": product, "available": n})
}

func (h *InventoryHandler) setStock(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")
	var req setStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Qty < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "qty must be non-negative"})
		return
	}
	h.Engine.SetStock(product, req.Qty)
	h.Cache.Invalidate(r.Context(), product)
	writeJSON(w, http.StatusOK, map[string]any{"productId": product, "stock": req.Qty})
}

func (h *InventoryHandler) setFlashSale(w http.ResponseWriter, r *http.Request) {
	var req setFlashSaleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	h.Engine.SetFlashSaleProducts(req.ProductIDs)
	writeJSON(w, http.StatusOK, map[string]any{"flashSaleProducts": req.ProductIDs})
}
