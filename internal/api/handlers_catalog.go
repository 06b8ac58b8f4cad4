package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"caskwatch/internal/catalog"

	"github.com/gin-gonic/gin"
)

// createEntityRequest 创建（或补充类型）实体的请求参数。
// type 可以省略：允许先建一个还不知道角色的实体，后续再补类型。
type createEntityRequest struct {
	Name        string   `json:"name" binding:"required"`
	Type        []string `json:"type"`
	Country     string   `json:"country"`
	Region      string   `json:"region"`
	Description string   `json:"description"`
}

// mergeEntitiesRequest 合并实体的请求参数。URL 中的 :id 是保留的根实体。
type mergeEntitiesRequest struct {
	EntityIDs []uint `json:"entity_ids" binding:"required,min=1"`
}

// createBottleRequest 创建酒款的请求参数。
type createBottleRequest struct {
	Name         string  `json:"name" binding:"required"`
	BrandID      uint    `json:"brand_id" binding:"required"`
	BottlerID    *uint   `json:"bottler_id"`
	DistillerIDs []uint  `json:"distiller_ids"`
	Series       *string `json:"series"`
	StatedAge    *int    `json:"stated_age"`
	Category     string  `json:"category"`
}

// handleCreateEntity 创建实体；同名实体已存在时把新类型并入其类型集合。
//
// POST /entities
func (s *Server) handleCreateEntity(c *gin.Context) {
	var req createEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := uint(getUserID(c))
	entity, outcome, err := s.entities.CreateOrAugment(c.Request.Context(), catalog.EntityInput{
		Name:        req.Name,
		Types:       req.Type,
		Country:     req.Country,
		Region:      req.Region,
		Description: req.Description,
		CreatedByID: &userID,
	})
	if err != nil {
		s.writeCatalogError(c, "create entity", err)
		return
	}

	status := http.StatusCreated
	if outcome == catalog.OutcomeAugmented {
		status = http.StatusOK
	}
	c.JSON(status, entity)
}

// handleGetEntity 返回单个实体。
//
// GET /entities/:id
func (s *Server) handleGetEntity(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
		return
	}

	entity, err := s.entities.GetByID(c.Request.Context(), id)
	if err != nil {
		s.writeCatalogError(c, "get entity", err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

// handleListEntities 返回全部实体，按名称排序。
//
// GET /entities
func (s *Server) handleListEntities(c *gin.Context) {
	entities, err := s.entities.List(c.Request.Context())
	if err != nil {
		s.logger.Error("list entities failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list entities failed"})
		return
	}
	c.JSON(http.StatusOK, entities)
}

// handleMergeEntities 把若干实体并入 :id 指定的根实体。
//
// POST /entities/:id/merge
func (s *Server) handleMergeEntities(c *gin.Context) {
	rootID, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity id"})
		return
	}

	var req mergeEntitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, id := range req.EntityIDs {
		if id == rootID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot merge entity into itself"})
			return
		}
	}

	if err := s.entities.Merge(c.Request.Context(), rootID, req.EntityIDs); err != nil {
		s.writeCatalogError(c, "merge entities", err)
		return
	}

	entity, err := s.entities.GetByID(c.Request.Context(), rootID)
	if err != nil {
		s.writeCatalogError(c, "load merged entity", err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

// handleCreateBottle 创建酒款。
//
// POST /bottles
func (s *Server) handleCreateBottle(c *gin.Context) {
	var req createBottleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := uint(getUserID(c))
	bottle, err := s.bottles.Create(c.Request.Context(), catalog.BottleInput{
		Name:         req.Name,
		BrandID:      req.BrandID,
		BottlerID:    req.BottlerID,
		DistillerIDs: req.DistillerIDs,
		Series:       req.Series,
		StatedAge:    req.StatedAge,
		Category:     req.Category,
		CreatedByID:  &userID,
	})
	if err != nil {
		s.writeCatalogError(c, "create bottle", err)
		return
	}
	c.JSON(http.StatusCreated, bottle)
}

// handleListBottles 返回全部酒款，按全名排序。
//
// GET /bottles
func (s *Server) handleListBottles(c *gin.Context) {
	bottles, err := s.bottles.List(c.Request.Context())
	if err != nil {
		s.logger.Error("list bottles failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list bottles failed"})
		return
	}
	c.JSON(http.StatusOK, bottles)
}

// writeCatalogError 把目录层错误映射为 HTTP 状态码。
func (s *Server) writeCatalogError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, catalog.ErrNoNewTypes):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, catalog.ErrInvalidType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error(op+" failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

func parseIDParam(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}
