package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"caskwatch/internal/catalog"
	"caskwatch/internal/model"
	"caskwatch/internal/pkg/redisqueue"

	"github.com/gin-gonic/gin"
)

// createStoreRequest 创建商店的请求参数。
type createStoreRequest struct {
	Name    string `json:"name" binding:"required"`
	Type    string `json:"type" binding:"required"`
	Country string `json:"country"`
}

// priceEntryRequest 价格投递接口里的单条报价。
// 请求体就是这种条目组成的 JSON 数组，和抓取结果走同一条入库路径。
type priceEntryRequest struct {
	Name  string `json:"name" binding:"required"`
	Price int    `json:"price" binding:"min=0"`
	URL   string `json:"url"`
}

// storePriceResponse 价格列表的单行。
type storePriceResponse struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Price    int    `json:"price"`
	URL      string `json:"url"`
	BottleID *uint  `json:"bottle_id"`
}

// handleCreateStore 创建商店。Type 全局唯一。
//
// POST /stores
func (s *Server) handleCreateStore(c *gin.Context) {
	var req createStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	store := model.Store{
		Name:    strings.TrimSpace(req.Name),
		Type:    strings.TrimSpace(strings.ToLower(req.Type)),
		Country: req.Country,
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&store).Error; err != nil {
		s.logger.Error("create store failed", slog.String("error", err.Error()))
		c.JSON(http.StatusConflict, gin.H{"error": "store type already exists"})
		return
	}
	c.JSON(http.StatusCreated, store)
}

// handleListStores 返回全部商店。
//
// GET /stores
func (s *Server) handleListStores(c *gin.Context) {
	stores := []model.Store{}
	if err := s.db.WithContext(c.Request.Context()).Order("name").Find(&stores).Error; err != nil {
		s.logger.Error("list stores failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list stores failed"})
		return
	}
	c.JSON(http.StatusOK, stores)
}

// handleIngestPrices 把一批价格写入指定商店。
//
// POST /stores/:id/prices
//
// 同 (store, name) 的已有行原地更新，酒款匹配失败的行 bottle_id 为空。
func (s *Server) handleIngestPrices(c *gin.Context) {
	storeID, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid store id"})
		return
	}

	var req []priceEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty price batch"})
		return
	}

	entries := make([]redisqueue.PriceEntry, 0, len(req))
	for _, p := range req {
		entries = append(entries, redisqueue.PriceEntry{
			Name:  strings.TrimSpace(p.Name),
			Price: p.Price,
			URL:   p.URL,
		})
	}

	result, err := s.ingestor.IngestBatch(c.Request.Context(), storeID, entries)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "store not found"})
			return
		}
		s.logger.Error("ingest prices failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest prices failed"})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// handleListStorePrices 返回某商店的当前价格列表。
//
// GET /stores/:id/prices
func (s *Server) handleListStorePrices(c *gin.Context) {
	storeID, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid store id"})
		return
	}

	var count int64
	if err := s.db.WithContext(c.Request.Context()).Model(&model.Store{}).
		Where("id = ?", storeID).Count(&count).Error; err != nil || count == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "store not found"})
		return
	}

	prices := []storePriceResponse{}
	if err := s.db.WithContext(c.Request.Context()).Model(&model.StorePrice{}).
		Select("id, name, price, url, bottle_id").
		Where("store_id = ?", storeID).
		Order("name").
		Scan(&prices).Error; err != nil {
		s.logger.Error("list store prices failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list prices failed"})
		return
	}
	c.JSON(http.StatusOK, prices)
}
