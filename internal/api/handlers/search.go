package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/storage"
	"github.com/your-org/photovault/pkg/dto"
)

// SearchHandler exposes the similarity index over raw vectors. Callers
// supply the embedding themselves (for example from a text encoder that
// shares the media embedding space).
type SearchHandler struct {
	db *storage.PostgresStore
}

func NewSearchHandler(db *storage.PostgresStore) *SearchHandler {
	return &SearchHandler{db: db}
}

func (h *SearchHandler) Media(c *gin.Context) {
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id query parameter required"})
		return
	}

	var req dto.SearchMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	matches, err := h.db.SearchMedia(c.Request.Context(), ownerID, req.Embedding, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results := make([]dto.SearchMediaResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, dto.SearchMediaResult{MediaID: m.MediaID, Path: m.Path, Score: m.Score})
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

func (h *SearchHandler) Faces(c *gin.Context) {
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id query parameter required"})
		return
	}

	var req dto.SearchFacesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	matches, err := h.db.SearchFaces(c.Request.Context(), ownerID, req.Encoding, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results := make([]dto.SearchFacesResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, dto.SearchFacesResult{PersonID: m.PersonID, Name: m.Name, Distance: m.Distance})
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}
