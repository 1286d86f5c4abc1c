package directory

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRoomNotFound = errors.New("ROOM_NOT_FOUND")
	ErrRoomFull     = errors.New("ROOM_FULL")
)

// Room：房间元数据。引擎只读它来圈定 topic，生命周期归目录管
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Private   bool      `json:"private"`
	OwnerID   string    `json:"ownerId"`
	Capacity  int       `json:"capacity"` // 0 表示不限
	CreatedAt time.Time `json:"createdAt"`
}

// Directory：房间名录。引擎只用它验证一个 peer 有没有资格进房间的 topic，
// 不做权限体系
type Directory interface {
	CreateRoom(ctx context.Context, r *Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context, ownerID string) ([]Room, error)
	DeleteRoom(ctx context.Context, id string) error
	ListMembers(ctx context.Context, roomID string) ([]string, error)
	AddMember(ctx context.Context, roomID, peerID string) error
	RemoveMember(ctx context.Context, roomID, peerID string) error
}

// Entitled：私有房间只有 owner 和名单内成员能进；公开房间只看容量
func Entitled(r *Room, members []string, peerID string) bool {
	if r.OwnerID == peerID {
		return true
	}
	for _, m := range members {
		if m == peerID {
			return true
		}
	}
	if r.Private {
		return false
	}
	return r.Capacity == 0 || len(members) < r.Capacity
}
