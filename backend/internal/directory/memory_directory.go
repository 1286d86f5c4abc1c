package directory

import (
	"context"
	"sync"
	"time"
)

// MemoryDirectory：内存版名录，测试和单机开发用
type MemoryDirectory struct {
	mu      sync.RWMutex
	rooms   map[string]Room
	members map[string]map[string]struct{} // roomID -> set<peerID>
}

var _ Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		rooms:   make(map[string]Room),
		members: make(map[string]map[string]struct{}),
	}
}

func (d *MemoryDirectory) CreateRoom(ctx context.Context, r *Room) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.ID == "" {
		r.ID = NewRoomID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	d.rooms[r.ID] = *r
	return nil
}

func (d *MemoryDirectory) GetRoom(ctx context.Context, id string) (*Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := r
	return &cp, nil
}

func (d *MemoryDirectory) ListRooms(ctx context.Context, ownerID string) ([]Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Room
	for _, r := range d.rooms {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *MemoryDirectory) DeleteRoom(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, id)
	delete(d.members, id)
	return nil
}

func (d *MemoryDirectory) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.members[roomID]))
	for peer := range d.members[roomID] {
		out = append(out, peer)
	}
	return out, nil
}

func (d *MemoryDirectory) AddMember(ctx context.Context, roomID, peerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[roomID] == nil {
		d.members[roomID] = make(map[string]struct{})
	}
	d.members[roomID][peerID] = struct{}{}
	return nil
}

func (d *MemoryDirectory) RemoveMember(ctx context.Context, roomID, peerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members[roomID], peerID)
	return nil
}
