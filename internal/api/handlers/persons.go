package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/faces"
	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/storage"
	"github.com/your-org/photovault/pkg/dto"
)

type PersonHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	resolver *faces.Resolver
}

func NewPersonHandler(db *storage.PostgresStore, minio *storage.MinIOStore, resolver *faces.Resolver) *PersonHandler {
	return &PersonHandler{db: db, minio: minio, resolver: resolver}
}

func personResponse(p *models.Person) dto.PersonResponse {
	return dto.PersonResponse{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		Name:        p.Name,
		IsNamed:     p.IsNamed,
		FaceCount:   p.FaceCount,
		CoverFaceID: p.CoverFaceID,
		CreatedAt:   p.CreatedAt,
	}
}

func (h *PersonHandler) List(c *gin.Context) {
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id query parameter required"})
		return
	}

	persons, err := h.db.PersonsByOwner(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.PersonResponse, 0, len(persons))
	for i := range persons {
		resp = append(resp, personResponse(&persons[i]))
	}
	c.JSON(http.StatusOK, gin.H{"persons": resp, "total": len(resp)})
}

func (h *PersonHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	c.JSON(http.StatusOK, personResponse(person))
}

// Rename sets the display name; a named person is pinned and survives
// re-clustering.
func (h *PersonHandler) Rename(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	var req dto.RenamePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.RenamePerson(c.Request.Context(), id, req.Name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	person, err := h.db.GetPerson(c.Request.Context(), id)
	if err != nil || person == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload person failed"})
		return
	}
	c.JSON(http.StatusOK, personResponse(person))
}

// Merge folds the source persons into the target person.
func (h *PersonHandler) Merge(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	var req dto.MergePersonsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	moved, err := h.resolver.Merge(c.Request.Context(), targetID, req.SourceIDs)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.MergePersonsResponse{TargetID: targetID, FacesMoved: moved})
}

func (h *PersonHandler) ListFaces(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	list, err := h.db.FacesByPerson(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.FaceResponse, 0, len(list))
	for _, f := range list {
		resp = append(resp, dto.FaceResponse{
			ID:         f.ID,
			MediaID:    f.MediaID,
			PersonID:   f.PersonID,
			X:          f.X,
			Y:          f.Y,
			Width:      f.Width,
			Height:     f.Height,
			Confidence: f.Confidence,
			CropKey:    f.CropKey,
			CreatedAt:  f.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"faces": resp, "total": len(resp)})
}

// FaceCrop streams the stored crop image for one face.
func (h *PersonHandler) FaceCrop(c *gin.Context) {
	faceID, err := uuid.Parse(c.Param("faceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face id"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), storage.FaceCropKey(faceID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "crop not found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}
