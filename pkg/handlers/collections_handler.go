package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/models"
	"github.com/openeduhub/metaqs/pkg/services"
	"github.com/openeduhub/metaqs/pkg/stats"
)

// CollectionsHandler serves live views of the collection hierarchy.
type CollectionsHandler struct {
	collections services.CollectionService
	logger      *zap.Logger
}

// NewCollectionsHandler creates a new CollectionsHandler.
func NewCollectionsHandler(collections services.CollectionService, logger *zap.Logger) *CollectionsHandler {
	return &CollectionsHandler{collections: collections, logger: logger}
}

// RegisterRoutes registers the collection routes on the given mux.
func (h *CollectionsHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/v1/collections/{noderef_id}"

	mux.HandleFunc("GET "+base+"/tree", h.Tree)
	mux.HandleFunc("GET "+base+"/pending-subcollections/{missing_attr}", h.PendingSubcollections)
	mux.HandleFunc("GET "+base+"/pending-materials/{missing_attr}", h.PendingMaterials)
	mux.HandleFunc("GET "+base+"/descendant-collections-materials-counts", h.DescendantMaterialsCounts)
}

// Tree handles GET /api/v1/collections/{noderef_id}/tree
func (h *CollectionsHandler) Tree(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeRefID(w, r, h.logger)
	if !ok {
		return
	}

	tree, err := h.collections.PortalTree(r.Context(), id)
	if err != nil {
		ServiceError(w, err, "Failed to build collection tree", h.logger)
		return
	}

	if err := WriteList(w, stats.CountTree(tree), tree); err != nil {
		h.logger.Error("Failed to write tree response", zap.Error(err))
	}
}

// PendingSubcollections handles
// GET /api/v1/collections/{noderef_id}/pending-subcollections/{missing_attr}
func (h *CollectionsHandler) PendingSubcollections(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeRefID(w, r, h.logger)
	if !ok {
		return
	}
	attr, err := models.ParseCollectionAttribute(r.PathValue("missing_attr"))
	if err != nil {
		badRequest(w, "invalid_missing_attr", err.Error(), h.logger)
		return
	}

	cols, err := h.collections.WithMissingAttribute(r.Context(), id, attr)
	if err != nil {
		ServiceError(w, err, "Failed to list pending subcollections", h.logger)
		return
	}

	if err := WriteList(w, len(cols), cols); err != nil {
		h.logger.Error("Failed to write pending subcollections response", zap.Error(err))
	}
}

// PendingMaterials handles
// GET /api/v1/collections/{noderef_id}/pending-materials/{missing_attr}
func (h *CollectionsHandler) PendingMaterials(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeRefID(w, r, h.logger)
	if !ok {
		return
	}
	attr, err := models.ParseMaterialAttribute(r.PathValue("missing_attr"))
	if err != nil {
		badRequest(w, "invalid_missing_attr", err.Error(), h.logger)
		return
	}

	materials, err := h.collections.MaterialsWithMissingAttribute(r.Context(), id, attr)
	if err != nil {
		ServiceError(w, err, "Failed to list pending materials", h.logger)
		return
	}

	if err := WriteList(w, len(materials), materials); err != nil {
		h.logger.Error("Failed to write pending materials response", zap.Error(err))
	}
}

// DescendantMaterialsCounts handles
// GET /api/v1/collections/{noderef_id}/descendant-collections-materials-counts
func (h *CollectionsHandler) DescendantMaterialsCounts(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseNodeRefID(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.collections.DescendantMaterialsCounts(r.Context(), id)
	if err != nil {
		ServiceError(w, err, "Failed to count descendant materials", h.logger)
		return
	}

	if err := WriteList(w, len(result.Results), result); err != nil {
		h.logger.Error("Failed to write materials counts response", zap.Error(err))
	}
}
