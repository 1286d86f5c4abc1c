package filesync

import (
	"encoding/json"
	"time"
)

const (
	EventFileCreated = "FILE_CREATED"
	EventFileUpdated = "FILE_UPDATED"
	EventFileDeleted = "FILE_DELETED"
)

// FileEvent：提交成功后在房间 file topic 上广播的事件，
// 带上完整的新状态，其他 peer 更新本地缓存不用再回查一次
type FileEvent struct {
	EventType string    `json:"eventType"` // FILE_CREATED / FILE_UPDATED / FILE_DELETED
	RoomID    string    `json:"roomId"`
	FileID    string    `json:"fileId"`
	Name      string    `json:"name,omitempty"`
	Path      string    `json:"path,omitempty"`
	Language  string    `json:"language,omitempty"`
	Content   string    `json:"content,omitempty"`
	Version   uint64    `json:"version,omitempty"`
	AuthorID  string    `json:"authorId"`
	AppliedAt time.Time `json:"appliedAt"`
}

func ParseFileEvent(payload []byte) (*FileEvent, error) {
	var evt FileEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
