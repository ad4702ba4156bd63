package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/NewsTicker/internal/storage"
)

type sourceRequest struct {
	Name    string   `json:"name" binding:"required"`
	URL     string   `json:"url" binding:"required,url"`
	Weight  *float64 `json:"weight" binding:"omitempty,gt=0"`
	Enabled *bool    `json:"enabled"`
}

func (r sourceRequest) apply(src *storage.Source) {
	src.Name = r.Name
	src.URL = r.URL
	if r.Weight != nil {
		src.Weight = *r.Weight
	}
	if r.Enabled != nil {
		src.Enabled = *r.Enabled
	}
}

type categoryRequest struct {
	Name     string   `json:"name" binding:"required"`
	Keywords string   `json:"keywords"`
	Weight   *float64 `json:"weight" binding:"omitempty,gt=0"`
	Enabled  *bool    `json:"enabled"`
}

func (r categoryRequest) apply(cat *storage.Category) {
	cat.Name = r.Name
	cat.Keywords = r.Keywords
	if r.Weight != nil {
		cat.Weight = *r.Weight
	}
	if r.Enabled != nil {
		cat.Enabled = *r.Enabled
	}
}

// ---------- 订阅源 ----------

func (s *Server) listSources(c *gin.Context) {
	list, err := s.catalog.ListSources(c.Request.Context())
	if err != nil {
		fromError(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) createSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	src := storage.Source{Weight: 1, Enabled: true}
	req.apply(&src)
	if err := s.catalog.CreateSource(c.Request.Context(), &src); err != nil {
		fromError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": "ok", "message": "success", "data": src})
}

// updateSource 全量编辑，改名会带上已入库的文章
func (s *Server) updateSource(c *gin.Context) {
	id, valid := parseID(c)
	if !valid {
		return
	}
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ctx := c.Request.Context()
	src, err := s.catalog.GetSource(ctx, id)
	if err != nil {
		fromError(c, err)
		return
	}
	req.apply(src)
	if err := s.catalog.UpdateSource(ctx, src); err != nil {
		fromError(c, err)
		return
	}
	s.reload(ctx)
	ok(c, src)
}

func (s *Server) toggleSource(c *gin.Context) {
	id, valid := parseID(c)
	if !valid {
		return
	}
	ctx := c.Request.Context()
	src, err := s.catalog.GetSource(ctx, id)
	if err != nil {
		fromError(c, err)
		return
	}
	src.Enabled = !src.Enabled
	if err := s.catalog.UpdateSource(ctx, src); err != nil {
		fromError(c, err)
		return
	}
	s.reload(ctx)
	ok(c, src)
}

func (s *Server) deleteSource(c *gin.Context) {
	id, valid := parseID(c)
	if !valid {
		return
	}
	ctx := c.Request.Context()
	if err := s.catalog.DeleteSource(ctx, id); err != nil {
		fromError(c, err)
		return
	}
	s.reload(ctx)
	ok(c, nil)
}

// ---------- 分类 ----------
// 分类只影响之后入库文章的分数，不需要刷新展示集合

func (s *Server) listCategories(c *gin.Context) {
	list, err := s.catalog.ListCategories(c.Request.Context())
	if err != nil {
		fromError(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) createCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	cat := storage.Category{Weight: 1, Enabled: true}
	req.apply(&cat)
	if err := s.catalog.CreateCategory(c.Request.Context(), &cat); err != nil {
		fromError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": "ok", "message": "success", "data": cat})
}

func (s *Server) updateCategory(c *gin.Context) {
	id, valid := parseID(c)
	if !valid {
		return
	}
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	ctx := c.Request.Context()
	cat, err := s.catalog.GetCategory(ctx, id)
	if err != nil {
		fromError(c, err)
		return
	}
	req.apply(cat)
	if err := s.catalog.UpdateCategory(ctx, cat); err != nil {
		fromError(c, err)
		return
	}
	ok(c, cat)
}

func (s *Server) toggleCategory(c *gin.Context) {
	id, valid := parseID(c)
	if !valid {
		return
	}
	ctx := c.Request.Context()
	cat, err := s.catalog.GetCategory(ctx, id)
	if err != nil {
		fromError(c, err)
		return
	}
	cat.Enabled = !cat.Enabled
	if err := s.catalog.UpdateCategory(ctx, cat); err != nil {
		fromError(c, err)
		return
	}
	ok(c, cat)
}

func (s *Server) deleteCategory(c *gin.Context) {
	id, valid := parseID(c)
	if !valid {
		return
	}
	if err := s.catalog.DeleteCategory(c.Request.Context(), id); err != nil {
		fromError(c, err)
		return
	}
	ok(c, nil)
}
