package cache

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"coderoom/backend/internal/store"
)

const (
	baseTTL          = 10 * time.Minute // 基础过期时间
	jitter           = 2 * time.Minute  // 随机抖动，防缓存雪崩
	nullTTL          = 30 * time.Second // 空值标记存活时间
	emptyCacheMarker = "__nil__"        // 空值标记，防缓存穿透
)

// 随机 TTL，防止同批键同时过期
func randomTTL() time.Duration {
	return baseTTL + time.Duration(rand.Int63n(int64(jitter)))
}

// FileCache：文件行的读穿缓存。GetFile 先走这里，
// miss 时回源 store，singleflight 保证同一文件并发回源只打一次
type FileCache struct {
	rdb *redis.Client
	sf  singleflight.Group
}

func NewFileCache(rdb *redis.Client) *FileCache {
	return &FileCache{rdb: rdb}
}

// Get：fetch 是回源函数。文件不存在时写空值标记，
// 下一波同 ID 的查询不再打到数据库
func (c *FileCache) Get(ctx context.Context, fileID string, fetch func() (*store.CollaborationFile, error)) (*store.CollaborationFile, error) {
	if c == nil || c.rdb == nil {
		return fetch()
	}
	key := fileKey(fileID)
	val, err, _ := c.sf.Do(key, func() (interface{}, error) {
		raw, err := c.rdb.Get(ctx, key).Result()
		if err == nil {
			if raw == emptyCacheMarker {
				return nil, store.ErrNotFound
			}
			var f store.CollaborationFile
			if err := json.Unmarshal([]byte(raw), &f); err == nil {
				return &f, nil
			}
			// 反序列化失败当 miss 处理，回源覆盖掉脏数据
		} else if !errors.Is(err, redis.Nil) {
			// redis 出问题直接回源，缓存只是加速器
			return fetch()
		}

		f, err := fetch()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				_ = c.rdb.Set(ctx, key, emptyCacheMarker, nullTTL).Err()
			}
			return nil, err
		}
		if b, err := json.Marshal(f); err == nil {
			_ = c.rdb.Set(ctx, key, b, randomTTL()).Err()
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	f, ok := val.(*store.CollaborationFile)
	if !ok {
		return nil, errors.New("internal type error")
	}
	return f, nil
}

// Invalidate：提交成功 / 删除之后调用，下一次读回源拿最新版本
func (c *FileCache) Invalidate(ctx context.Context, fileID string) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, fileKey(fileID)).Err()
}
