package inventory

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/shelfline-wms/shelfline/internal/platform/httpx"
)

// Handler exposes inventory CRUD over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/inventory", h.list)
	r.Post("/inventory", h.create)
	r.Get("/inventory/{id}", h.show)
	r.Patch("/inventory/{id}", h.update)
	r.Delete("/inventory/{id}", h.remove)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListAll(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if records == nil {
		records = []Record{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": records})
}

type createRequest struct {
	ProductID      string   `json:"productId"`
	SKU            string   `json:"sku" validate:"required"`
	Location       string   `json:"location"`
	Quantity       int      `json:"quantity" validate:"gte=0"`
	Barcode        string   `json:"barcode"`
	Name           string   `json:"name" validate:"required"`
	Condition      string   `json:"condition"`
	Length         *float64 `json:"length"`
	Width          *float64 `json:"width"`
	Height         *float64 `json:"height"`
	Weight         *float64 `json:"weight"`
	Price          *float64 `json:"price"`
	Images         []string `json:"images"`
	ItemID         string   `json:"itemId"`
	EbayURL        string   `json:"ebayUrl"`
	EbaySellerName string   `json:"ebaySellerName"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec, err := h.service.Create(r.Context(), Record{
		ProductID:      req.ProductID,
		SKU:            req.SKU,
		Location:       req.Location,
		Quantity:       req.Quantity,
		Barcode:        req.Barcode,
		Name:           req.Name,
		Condition:      req.Condition,
		Length:         req.Length,
		Width:          req.Width,
		Height:         req.Height,
		Weight:         req.Weight,
		Price:          req.Price,
		Images:         req.Images,
		ItemID:         req.ItemID,
		EbayURL:        req.EbayURL,
		EbaySellerName: req.EbaySellerName,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var patch FieldPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if patch.IsEmpty() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "patch carries no fields")
		return
	}
	rec, deleted, err := h.service.ApplyPatch(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if deleted {
		httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true})
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateProductID):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrSKURequired), errors.Is(err, ErrNegativeQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
