package filesync

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"coderoom/backend/internal/cache"
	"coderoom/backend/internal/conflict"
	"coderoom/backend/internal/store"
	"coderoom/backend/internal/transport"
)

var ErrValidation = errors.New("VALIDATION_ERROR")

type CreateFileRequest struct {
	RoomID    string `json:"roomId"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	CreatorID string `json:"creatorId"`
}

// UpdateFileRequest：Version 是调用方最后看到的版本，乐观并发的令牌
type UpdateFileRequest struct {
	Content  string `json:"content"`
	Version  uint64 `json:"version"`
	AuthorID string `json:"authorId"`
}

// Service：文件同步的权威状态机。所有内容变更先过 Conflict Detector，
// 再走存储层的 CAS 提交；提交成功的版本广播给房间里所有 peer
type Service struct {
	store      store.FileStore
	cache      *cache.FileCache // 可为 nil（纯内存部署）
	bus        transport.Bus
	dispatcher *EventDispatcher // 可为 nil（不接 Kafka）
}

func NewService(st store.FileStore, fc *cache.FileCache, bus transport.Bus, d *EventDispatcher) *Service {
	return &Service{store: st, cache: fc, bus: bus, dispatcher: d}
}

func (s *Service) CreateFile(ctx context.Context, req CreateFileRequest) (*store.CollaborationFile, error) {
	// 校验在任何网络调用之前做，不合法的请求不重试
	if strings.TrimSpace(req.RoomID) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, ErrValidation
	}
	p := req.Path
	if p == "" {
		p = req.Name
	}
	f := &store.CollaborationFile{
		ID:        store.NewFileID(),
		RoomID:    req.RoomID,
		Name:      req.Name,
		Path:      p,
		Content:   req.Content,
		Language:  DetectLanguage(p),
		Version:   1,
		CreatorID: req.CreatorID,
	}
	if err := s.store.Create(ctx, f); err != nil {
		return nil, err
	}
	s.announce(ctx, EventFileCreated, f, req.CreatorID)
	return f, nil
}

func (s *Service) GetFile(ctx context.Context, id string) (*store.CollaborationFile, error) {
	if s.cache != nil {
		return s.cache.Get(ctx, id, func() (*store.CollaborationFile, error) {
			return s.store.Get(ctx, id)
		})
	}
	return s.store.Get(ctx, id)
}

// UpdateFile：乐观并发的提交点。
// 返回值三元组：(file, report, err)
// - 提交成功：file 是带新版本的状态，report 为 nil
// - 冲突：file 是当前权威状态，report 说明差在哪，err 为 nil —— 冲突是一等返回值不是异常
// - 其他失败（NotFound / 存储错误）：err 非 nil
func (s *Service) UpdateFile(ctx context.Context, id string, req UpdateFileRequest) (*store.CollaborationFile, *conflict.Report, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	// 先过检测器；检测器说冲突就不碰存储
	if conflict.Detect(req.Version, cur.Version) == conflict.Conflict {
		return cur, s.report(id, req, cur.Version), nil
	}
	f, err := s.store.UpdateContent(ctx, id, req.Version, req.Content)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// 检测和提交之间被别人抢先了，重新加载权威状态再报冲突
			cur, gerr := s.store.Get(ctx, id)
			if gerr != nil {
				return nil, nil, gerr
			}
			return cur, s.report(id, req, cur.Version), nil
		}
		return nil, nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
	s.announce(ctx, EventFileUpdated, f, req.AuthorID)
	return f, nil, nil
}

func (s *Service) report(fileID string, req UpdateFileRequest, currentVersion uint64) *conflict.Report {
	return &conflict.Report{
		FileID:          fileID,
		BaseVersion:     req.Version,
		CurrentVersion:  currentVersion,
		RejectedContent: req.Content,
	}
}

// DeleteFile 幂等，删不存在的文件直接成功
func (s *Service) DeleteFile(ctx context.Context, id, authorID string) error {
	f, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
	s.announce(ctx, EventFileDeleted, f, authorID)
	return nil
}

func (s *Service) ListFiles(ctx context.Context, roomID string) ([]store.CollaborationFile, error) {
	return s.store.ListByRoom(ctx, roomID)
}

// RenameFile：语言标签按新路径重新推导，版本恰好 +1，内容不变
func (s *Service) RenameFile(ctx context.Context, id, newName, newPath, authorID string) (*store.CollaborationFile, error) {
	if strings.TrimSpace(newName) == "" {
		return nil, ErrValidation
	}
	if newPath == "" {
		newPath = newName
	}
	f, err := s.store.Rename(ctx, id, newName, newPath, DetectLanguage(newPath))
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
	s.announce(ctx, EventFileUpdated, f, authorID)
	return f, nil
}

// DeleteRoomFiles：房间被删时的级联，把房间里的文件全部清掉
func (s *Service) DeleteRoomFiles(ctx context.Context, roomID, authorID string) error {
	files, err := s.store.ListByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteByRoom(ctx, roomID); err != nil {
		return err
	}
	for i := range files {
		if s.cache != nil {
			s.cache.Invalidate(ctx, files[i].ID)
		}
		s.announce(ctx, EventFileDeleted, &files[i], authorID)
	}
	return nil
}

// announce：房间 topic 广播 + Kafka 审计流，两边都是尽力而为，
// 失败不影响已经落库的提交
func (s *Service) announce(ctx context.Context, eventType string, f *store.CollaborationFile, authorID string) {
	evt := FileEvent{
		EventType: eventType,
		RoomID:    f.RoomID,
		FileID:    f.ID,
		Name:      f.Name,
		Path:      f.Path,
		Language:  f.Language,
		Version:   f.Version,
		AuthorID:  authorID,
		AppliedAt: time.Now(),
	}
	if eventType != EventFileDeleted {
		evt.Content = f.Content
	}
	if s.bus != nil {
		payload, err := json.Marshal(evt)
		if err == nil {
			if err := s.bus.Publish(ctx, transport.FileTopic(f.RoomID), authorID, payload); err != nil {
				log.Printf("filesync: broadcast %s failed file=%s: %v", eventType, f.ID, err)
			}
		}
	}
	if s.dispatcher != nil {
		enqCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		if err := s.dispatcher.Enqueue(enqCtx, evt); err != nil {
			log.Printf("filesync: kafka enqueue failed file=%s: %v", f.ID, err)
		}
	}
}
