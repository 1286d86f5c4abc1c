package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"coderoom/backend/internal/directory"
	"coderoom/backend/internal/filesync"
	"coderoom/backend/internal/ws"
)

// RoomHandler：房间目录的薄封装。房间生命周期归目录管，
// 这里只负责把删房间时的文件级联和在线通知串起来
type RoomHandler struct {
	dir   directory.Directory
	files *filesync.Service
	hub   *ws.Hub
}

func NewRoomHandler(dir directory.Directory, files *filesync.Service, hub *ws.Hub) *RoomHandler {
	return &RoomHandler{dir: dir, files: files, hub: hub}
}

func (h *RoomHandler) Register(g *gin.RouterGroup) {
	g.POST("/rooms", h.CreateRoom)
	g.GET("/rooms", h.ListRooms)
	g.GET("/rooms/:roomID", h.GetRoom)
	g.DELETE("/rooms/:roomID", h.DeleteRoom)
	g.POST("/rooms/:roomID/members", h.AddMember)
	g.DELETE("/rooms/:roomID/members/:peerID", h.RemoveMember)
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Private  bool   `json:"private"`
		Capacity int    `json:"capacity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "message": err.Error()})
		return
	}
	r := &directory.Room{
		Name:     req.Name,
		Private:  req.Private,
		Capacity: req.Capacity,
		OwnerID:  peerID(c),
	}
	if err := h.dir.CreateRoom(c.Request.Context(), r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	// 房主自动入名单
	if err := h.dir.AddMember(c.Request.Context(), r.ID, r.OwnerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.dir.ListRooms(c.Request.Context(), peerID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	r, err := h.dir.GetRoom(c.Request.Context(), c.Param("roomID"))
	if err != nil {
		if errors.Is(err, directory.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	members, err := h.dir.ListMembers(c.Request.Context(), r.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": r, "members": members})
}

// DeleteRoom：只有房主能删。文件级联清掉，在线连接收一条 room_deleted
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID := c.Param("roomID")
	r, err := h.dir.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, directory.ErrRoomNotFound) {
			c.Status(http.StatusNoContent) // 删不存在的房间保持幂等
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	if r.OwnerID != peerID(c) {
		c.JSON(http.StatusForbidden, gin.H{"code": "NOT_ROOM_OWNER"})
		return
	}
	if err := h.files.DeleteRoomFiles(c.Request.Context(), roomID, peerID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	if err := h.dir.DeleteRoom(c.Request.Context(), roomID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	if h.hub != nil {
		h.hub.Broadcast(roomID, ws.ServerMessage{Type: "room_deleted", RoomID: roomID})
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) AddMember(c *gin.Context) {
	var req struct {
		PeerID string `json:"peerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "message": err.Error()})
		return
	}
	roomID := c.Param("roomID")
	r, err := h.dir.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, directory.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	members, err := h.dir.ListMembers(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	// 容量检查在这里做，AddMember 本身保持幂等
	if r.Capacity > 0 && len(members) >= r.Capacity {
		already := false
		for _, m := range members {
			if m == req.PeerID {
				already = true
			}
		}
		if !already {
			c.JSON(http.StatusConflict, gin.H{"code": "ROOM_FULL", "message": directory.ErrRoomFull.Error()})
			return
		}
	}
	if err := h.dir.AddMember(c.Request.Context(), roomID, req.PeerID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) RemoveMember(c *gin.Context) {
	if err := h.dir.RemoveMember(c.Request.Context(), c.Param("roomID"), c.Param("peerID")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
