package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	ErrNotFound        = errors.New("FILE_NOT_FOUND")
	ErrVersionConflict = errors.New("VERSION_CONFLICT")
)

// CollaborationFile：一个房间里的一份文本文件。
// Version 是乐观并发的令牌：每次成功提交 +1，永不回退，
// 同一个 version+1 只会被接受一次，第二个必然拿到冲突
type CollaborationFile struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	RoomID    string    `gorm:"index;type:varchar(64)" json:"roomId"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Path      string    `gorm:"type:varchar(512)" json:"path"`
	Content   string    `gorm:"type:longtext" json:"content"`
	Language  string    `gorm:"type:varchar(32)" json:"language"`
	Version   uint64    `gorm:"default:1" json:"version"`
	CreatorID string    `gorm:"type:varchar(64)" json:"creatorId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileStore：version 计数器是全系统唯一一块真正共享的可变状态，
// 所有内容变更都必须走 UpdateContent 的 compare-and-swap 路径
type FileStore interface {
	Create(ctx context.Context, f *CollaborationFile) error
	Get(ctx context.Context, id string) (*CollaborationFile, error)
	ListByRoom(ctx context.Context, roomID string) ([]CollaborationFile, error)
	// UpdateContent：baseVersion 等于当前版本才写入，version+1；
	// 不等返回 ErrVersionConflict，文件不存在返回 ErrNotFound
	UpdateContent(ctx context.Context, id string, baseVersion uint64, content string) (*CollaborationFile, error)
	// Rename：改名/改路径是无条件提交，version 恰好 +1，内容不动
	Rename(ctx context.Context, id string, name, path, language string) (*CollaborationFile, error)
	// Delete 幂等：删不存在的文件不算错
	Delete(ctx context.Context, id string) error
	DeleteByRoom(ctx context.Context, roomID string) error
}

var fileSeq atomic.Uint64

// NewFileID：和操作 ID 一个起法，时间戳 + 进程内序号防同纳秒撞车
func NewFileID() string {
	return fmt.Sprintf("f-%d-%d", time.Now().UnixNano(), fileSeq.Add(1))
}
