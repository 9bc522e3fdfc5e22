package hub

import (
	"sort"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
)

// Participant is one joined connection.
type Participant struct {
	ID         protocol.ParticipantID
	Name       string
	HandRaised bool
	JoinedAt   time.Time

	// client is the transport handle; nil in registry-only tests.
	client *Client
}

func (p *Participant) info() protocol.ParticipantInfo {
	return protocol.ParticipantInfo{ID: p.ID, Name: p.Name, HandRaised: p.HandRaised}
}

// Room is a named set of participants. It exists only while non-empty.
type Room struct {
	ID           string
	Participants map[protocol.ParticipantID]*Participant
	CreatedAt    time.Time
}

// RoomInfo is an immutable view of a room, safe to hand to other goroutines.
type RoomInfo struct {
	ID           string                     `json:"id"`
	CreatedAt    time.Time                  `json:"created_at"`
	Participants []protocol.ParticipantInfo `json:"participants"`
}

// Registry is the hub's participant directory. It is not safe for concurrent
// use: only the hub's event loop touches it.
type Registry struct {
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Join adds p to roomID, creating the room if needed, and returns the other
// members sorted by id.
func (r *Registry) Join(roomID string, p *Participant) []protocol.ParticipantInfo {
	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{
			ID:           roomID,
			Participants: make(map[protocol.ParticipantID]*Participant),
			CreatedAt:    time.Now().UTC(),
		}
		r.rooms[roomID] = room
	}

	others := sortedInfos(room, p.ID)
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	room.Participants[p.ID] = p
	return others
}

// Leave removes id from roomID. It reports the removed participant and whether
// the room was deleted because it became empty.
func (r *Registry) Leave(roomID string, id protocol.ParticipantID) (p *Participant, roomDeleted bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	p, ok = room.Participants[id]
	if !ok {
		return nil, false
	}
	delete(room.Participants, id)
	if len(room.Participants) == 0 {
		delete(r.rooms, roomID)
		return p, true
	}
	return p, false
}

// Lookup finds id in roomID.
func (r *Registry) Lookup(roomID string, id protocol.ParticipantID) (*Participant, bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	p, ok := room.Participants[id]
	return p, ok
}

// Others returns every participant of roomID except the given id.
func (r *Registry) Others(roomID string, except protocol.ParticipantID) []*Participant {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Participant, 0, len(room.Participants))
	for id, p := range room.Participants {
		if id == except {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// SetHand records id's raised-hand flag.
func (r *Registry) SetHand(roomID string, id protocol.ParticipantID, up bool) bool {
	p, ok := r.Lookup(roomID, id)
	if !ok {
		return false
	}
	p.HandRaised = up
	return true
}

// Occupancy returns the number of participants in roomID.
func (r *Registry) Occupancy(roomID string) int {
	room, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	return len(room.Participants)
}

// Snapshot copies every room, sorted by id.
func (r *Registry) Snapshot() []RoomInfo {
	out := make([]RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, RoomInfo{
			ID:           room.ID,
			CreatedAt:    room.CreatedAt,
			Participants: sortedInfos(room, ""),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedInfos(room *Room, except protocol.ParticipantID) []protocol.ParticipantInfo {
	infos := make([]protocol.ParticipantInfo, 0, len(room.Participants))
	for id, p := range room.Participants {
		if id == except {
			continue
		}
		infos = append(infos, p.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID.Less(infos[j].ID) })
	return infos
}
