package ws

import (
	"coderoom/backend/internal/conflict"
	"coderoom/backend/internal/cursor"
	"coderoom/backend/internal/presence"
	"coderoom/backend/internal/store"
)

type ClientMessage struct {
	Type        string        `json:"type"`
	RoomID      string        `json:"roomId,omitempty"`
	FileID      string        `json:"fileId,omitempty"`
	Name        string        `json:"name,omitempty"`
	Path        string        `json:"path,omitempty"`
	Content     string        `json:"content,omitempty"`
	BaseVersion uint64        `json:"baseVersion,omitempty"`
	Line        int           `json:"line,omitempty"`
	Column      int           `json:"column,omitempty"`
	Selection   *cursor.Range `json:"selection,omitempty"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

type ServerMessage struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId,omitempty"`
	FileID  string `json:"fileId,omitempty"`
	Content string `json:"content,omitempty"`
}

type PresenceMessage struct {
	Type    string           `json:"type"` // 固定 "presence"
	RoomID  string           `json:"roomId"`
	Members []presence.Entry `json:"members"`
}

type CursorMessage struct {
	Type   string       `json:"type"` // 固定 "cursor"
	RoomID string       `json:"roomId"`
	State  cursor.State `json:"state"`
}

type FileMessage struct {
	Type string                   `json:"type"` // file_created / file_updated / file_deleted / file
	File *store.CollaborationFile `json:"file,omitempty"`
	ID   string                   `json:"fileId,omitempty"`
}

type FileListMessage struct {
	Type  string                    `json:"type"` // 固定 "files"
	Files []store.CollaborationFile `json:"files"`
}

// 冲突回包带权威状态，前端弹窗时不用再发一次查询
type ConflictMessage struct {
	Type   string                   `json:"type"` // 固定 "conflict"
	Report *conflict.Report         `json:"report"`
	File   *store.CollaborationFile `json:"file"`
}

// 隐式实现 OutboundMessage 接口
func (m ServerMessage) MessageType() string   { return m.Type }
func (m PresenceMessage) MessageType() string { return m.Type }
func (m CursorMessage) MessageType() string   { return m.Type }
func (m FileMessage) MessageType() string     { return m.Type }
func (m FileListMessage) MessageType() string { return m.Type }
func (m ConflictMessage) MessageType() string { return m.Type }
