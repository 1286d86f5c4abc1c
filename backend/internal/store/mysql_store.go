package store

import (
	"context"
	"errors"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type mysqlFileStore struct {
	db *gorm.DB
}

var _ FileStore = (*mysqlFileStore)(nil)

func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&CollaborationFile{}); err != nil {
		return nil, err
	}
	return db, nil
}

func NewMySQLFileStore(db *gorm.DB) FileStore {
	return &mysqlFileStore{db: db}
}

func (s *mysqlFileStore) Create(ctx context.Context, f *CollaborationFile) error {
	if f.Version == 0 {
		f.Version = 1
	}
	return s.db.WithContext(ctx).Create(f).Error
}

func (s *mysqlFileStore) Get(ctx context.Context, id string) (*CollaborationFile, error) {
	var f CollaborationFile
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *mysqlFileStore) ListByRoom(ctx context.Context, roomID string) ([]CollaborationFile, error) {
	var files []CollaborationFile
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order("path").Find(&files).Error
	return files, err
}

// UpdateContent：CAS 写。WHERE 带上 version，RowsAffected 为 0 说明
// 要么文件没了要么版本被别人抢先推进了
func (s *mysqlFileStore) UpdateContent(ctx context.Context, id string, baseVersion uint64, content string) (*CollaborationFile, error) {
	res := s.db.WithContext(ctx).Model(&CollaborationFile{}).
		Where("id = ? AND version = ?", id, baseVersion).
		Updates(map[string]interface{}{
			"content": content,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err // ErrNotFound
		}
		return nil, ErrVersionConflict
	}
	return s.Get(ctx, id)
}

func (s *mysqlFileStore) Rename(ctx context.Context, id string, name, path, language string) (*CollaborationFile, error) {
	res := s.db.WithContext(ctx).Model(&CollaborationFile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"name":     name,
			"path":     path,
			"language": language,
			"version":  gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *mysqlFileStore) Delete(ctx context.Context, id string) error {
	// 不看 RowsAffected，删不存在的行保持幂等
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&CollaborationFile{}).Error
}

func (s *mysqlFileStore) DeleteByRoom(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&CollaborationFile{}).Error
}
