package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// mysqlDirectory：裸 database/sql 实现。
// 表结构：
//   rooms(id, name, private, owner_id, capacity, created_at)
//   room_members(room_id, peer_id)  主键 (room_id, peer_id)
type mysqlDirectory struct{ db *sql.DB }

var _ Directory = (*mysqlDirectory)(nil)

func NewMySQLDirectory(db *sql.DB) Directory {
	return &mysqlDirectory{db: db}
}

func NewRoomID() string {
	return fmt.Sprintf("r-%d", time.Now().UnixNano())
}

func (d *mysqlDirectory) CreateRoom(ctx context.Context, r *Room) error {
	if r.ID == "" {
		r.ID = NewRoomID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, private, owner_id, capacity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Private, r.OwnerID, r.Capacity, r.CreatedAt,
	)
	return err
}

func (d *mysqlDirectory) GetRoom(ctx context.Context, id string) (*Room, error) {
	var r Room
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, private, owner_id, capacity, created_at FROM rooms WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.Name, &r.Private, &r.OwnerID, &r.Capacity, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (d *mysqlDirectory) ListRooms(ctx context.Context, ownerID string) ([]Room, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, private, owner_id, capacity, created_at FROM rooms WHERE owner_id = ?`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Private, &r.OwnerID, &r.Capacity, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRoom：房间和成员名单一起删。文件的级联删除在 filesync 那边做，
// 目录不认识文件表
func (d *mysqlDirectory) DeleteRoom(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ?`, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *mysqlDirectory) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT peer_id FROM room_members WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var peer string
		if err := rows.Scan(&peer); err != nil {
			return nil, err
		}
		out = append(out, peer)
	}
	return out, rows.Err()
}

func (d *mysqlDirectory) AddMember(ctx context.Context, roomID, peerID string) error {
	// INSERT IGNORE：重复加成员保持幂等
	_, err := d.db.ExecContext(ctx,
		`INSERT IGNORE INTO room_members (room_id, peer_id) VALUES (?, ?)`,
		roomID, peerID,
	)
	return err
}

func (d *mysqlDirectory) RemoveMember(ctx context.Context, roomID, peerID string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM room_members WHERE room_id = ? AND peer_id = ?`,
		roomID, peerID,
	)
	return err
}
