package api

import (
	"log/slog"
	"net/http"
	"strings"

	"caskwatch/internal/model"

	"github.com/gin-gonic/gin"
)

// createSiteRequest 注册外部抓取站点的请求参数。
type createSiteRequest struct {
	Type     string `json:"type" binding:"required"`
	Name     string `json:"name"`
	StoreID  uint   `json:"store_id" binding:"required"`
	RunEvery *int   `json:"run_every"` // 分钟，空表示不参与调度
}

// updateSiteRequest 修改站点调度参数。
type updateSiteRequest struct {
	Name     *string `json:"name"`
	RunEvery *int    `json:"run_every"`
	Disable  bool    `json:"disable"` // true 时停用调度（run_every 置空）
}

// handleCreateSite 注册外部站点。
//
// POST /sites
func (s *Server) handleCreateSite(c *gin.Context) {
	var req createSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RunEvery != nil && *req.RunEvery <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_every must be positive"})
		return
	}

	var count int64
	if err := s.db.WithContext(c.Request.Context()).Model(&model.Store{}).
		Where("id = ?", req.StoreID).Count(&count).Error; err != nil || count == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "store not found"})
		return
	}

	site := model.ExternalSite{
		Type:     strings.TrimSpace(strings.ToLower(req.Type)),
		Name:     req.Name,
		StoreID:  req.StoreID,
		RunEvery: req.RunEvery,
		// NextRunAt 留空：参与调度的站点首轮扫描即到期
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&site).Error; err != nil {
		s.logger.Error("create site failed", slog.String("error", err.Error()))
		c.JSON(http.StatusConflict, gin.H{"error": "site type already exists"})
		return
	}
	c.JSON(http.StatusCreated, site)
}

// handleListSites 返回全部外部站点及其调度状态。
//
// GET /sites
func (s *Server) handleListSites(c *gin.Context) {
	sites := []model.ExternalSite{}
	if err := s.db.WithContext(c.Request.Context()).Order("type").Find(&sites).Error; err != nil {
		s.logger.Error("list sites failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list sites failed"})
		return
	}
	c.JSON(http.StatusOK, sites)
}

// handleUpdateSite 修改站点调度参数。
//
// PATCH /sites/:id
func (s *Server) handleUpdateSite(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid site id"})
		return
	}

	var req updateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Disable {
		updates["run_every"] = nil
		updates["next_run_at"] = nil
	} else if req.RunEvery != nil {
		if *req.RunEvery <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "run_every must be positive"})
			return
		}
		updates["run_every"] = *req.RunEvery
		// 调度周期变更后下轮扫描立即生效
		updates["next_run_at"] = nil
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	res := s.db.WithContext(c.Request.Context()).Model(&model.ExternalSite{}).
		Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		s.logger.Error("update site failed", slog.String("error", res.Error.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update site failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "site not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}
