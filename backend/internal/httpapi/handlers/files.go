package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"coderoom/backend/internal/filesync"
	"coderoom/backend/internal/store"
)

// FileHandler：文件 CRUD 的 REST 面。
// 编辑的主路径走 ws + 变更队列，这里给集成方一个直连的提交口
type FileHandler struct {
	files *filesync.Service
}

func NewFileHandler(files *filesync.Service) *FileHandler {
	return &FileHandler{files: files}
}

func (h *FileHandler) Register(g *gin.RouterGroup) {
	g.POST("/files", h.CreateFile)
	g.GET("/files/:fileID", h.GetFile)
	g.PUT("/files/:fileID", h.UpdateFile)
	g.DELETE("/files/:fileID", h.DeleteFile)
	g.POST("/files/:fileID/rename", h.RenameFile)
	g.GET("/rooms/:roomID/files", h.ListFiles)
}

func peerID(c *gin.Context) string {
	// identity 中间件写入，走到这里一定有
	return c.GetString("peerId")
}

func (h *FileHandler) CreateFile(c *gin.Context) {
	var req struct {
		RoomID  string `json:"roomId" binding:"required"`
		Name    string `json:"name" binding:"required"`
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "message": err.Error()})
		return
	}
	f, err := h.files.CreateFile(c.Request.Context(), filesync.CreateFileRequest{
		RoomID:    req.RoomID,
		Name:      req.Name,
		Path:      req.Path,
		Content:   req.Content,
		CreatorID: peerID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *FileHandler) GetFile(c *gin.Context) {
	f, err := h.files.GetFile(c.Request.Context(), c.Param("fileID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// UpdateFile：乐观并发提交点。冲突回 409，带报告和当前权威状态，
// 调用方凭这两样就能选择换基线重试还是强制覆盖
func (h *FileHandler) UpdateFile(c *gin.Context) {
	var req struct {
		Content string  `json:"content"`
		Version *uint64 `json:"version" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Version == nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "message": "version is required"})
		return
	}
	f, report, err := h.files.UpdateFile(c.Request.Context(), c.Param("fileID"), filesync.UpdateFileRequest{
		Content:  req.Content,
		Version:  *req.Version,
		AuthorID: peerID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if report != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT", "report": report, "file": f})
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *FileHandler) DeleteFile(c *gin.Context) {
	if err := h.files.DeleteFile(c.Request.Context(), c.Param("fileID"), peerID(c)); err != nil {
		writeError(c, err)
		return
	}
	// 幂等：删过的再删也是 204
	c.Status(http.StatusNoContent)
}

func (h *FileHandler) RenameFile(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Path string `json:"path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "message": err.Error()})
		return
	}
	f, err := h.files.RenameFile(c.Request.Context(), c.Param("fileID"), req.Name, req.Path, peerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *FileHandler) ListFiles(c *gin.Context) {
	files, err := h.files.ListFiles(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": err.Error()})
	case errors.Is(err, filesync.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
	}
}
