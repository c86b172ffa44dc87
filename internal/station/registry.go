// Package station tracks which camera stations are connected and which camera
// ID each connection currently claims.
package station

import (
	"slices"
	"time"

	"aoi/internal/protocol"
)

// ConnID identifies one accepted connection for its lifetime.
type ConnID string

// Link is the registry's weak reference to a live connection. The registry
// never closes a Link; the connection owner does.
type Link interface {
	ID() ConnID
	RemoteAddr() string
	Send(payload []byte) error
}

// Presence maps every valid camera ID to whether some connection claims it.
type Presence map[protocol.CameraID]bool

// Online returns the camera IDs currently present, ascending.
func (p Presence) Online() []protocol.CameraID {
	out := make([]protocol.CameraID, 0, len(p))
	for id, ok := range p {
		if ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Clone returns an independent copy.
func (p Presence) Clone() Presence {
	out := make(Presence, len(p))
	for id, ok := range p {
		out[id] = ok
	}
	return out
}

// PresenceChange reports one camera flipping online or offline.
type PresenceChange struct {
	CameraID protocol.CameraID `json:"camera_id"`
	Online   bool              `json:"online"`
}

// Info describes one attached connection.
type Info struct {
	ConnID      ConnID            `json:"conn_id"`
	Remote      string            `json:"remote"`
	CameraID    protocol.CameraID `json:"camera_id,omitempty"`
	Identified  bool              `json:"identified"`
	ConnectedAt time.Time         `json:"connected_at"`
	LastSeen    time.Time         `json:"last_seen"`
}

type entry struct {
	link        Link
	cameraID    protocol.CameraID
	identified  bool
	connectedAt time.Time
	lastSeen    time.Time
}

// Registry holds connection identities and the derived presence map. It is not
// safe for concurrent use; the controller serializes access.
type Registry struct {
	entries  map[ConnID]*entry
	order    []ConnID
	presence Presence
	now      func() time.Time
}

// NewRegistry returns an empty registry with every camera offline.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[ConnID]*entry),
		presence: emptyPresence(),
		now:      time.Now,
	}
}

func emptyPresence() Presence {
	p := make(Presence, len(protocol.AllCameras))
	for _, id := range protocol.AllCameras {
		p[id] = false
	}
	return p
}

// Attach records a newly accepted connection with no identity.
func (r *Registry) Attach(link Link) {
	id := link.ID()
	if _, ok := r.entries[id]; ok {
		return
	}
	now := r.now()
	r.entries[id] = &entry{link: link, connectedAt: now, lastSeen: now}
	r.order = append(r.order, id)
}

// IdentitySeen binds connID to cameraID, replacing any earlier identity, and
// returns the resulting presence changes. Unknown connections and invalid IDs
// are ignored.
func (r *Registry) IdentitySeen(connID ConnID, cameraID protocol.CameraID) []PresenceChange {
	e, ok := r.entries[connID]
	if !ok || !cameraID.Valid() {
		return nil
	}
	e.cameraID = cameraID
	e.identified = true
	e.lastSeen = r.now()
	return r.rebuild()
}

// Touch refreshes the last-seen time of a connection.
func (r *Registry) Touch(connID ConnID) {
	if e, ok := r.entries[connID]; ok {
		e.lastSeen = r.now()
	}
}

// Disconnect removes connID and returns the resulting presence changes.
func (r *Registry) Disconnect(connID ConnID) []PresenceChange {
	if _, ok := r.entries[connID]; !ok {
		return nil
	}
	delete(r.entries, connID)
	r.order = slices.DeleteFunc(r.order, func(id ConnID) bool { return id == connID })
	return r.rebuild()
}

// CameraOf returns the identity currently bound to connID.
func (r *Registry) CameraOf(connID ConnID) (protocol.CameraID, bool) {
	e, ok := r.entries[connID]
	if !ok || !e.identified {
		return 0, false
	}
	return e.cameraID, true
}

// Presence returns a copy of the current presence map.
func (r *Registry) Presence() Presence {
	return r.presence.Clone()
}

// Links returns the live links whose identity is in targets, in attach order.
// Connections without an identity never match.
func (r *Registry) Links(targets []protocol.CameraID) []Link {
	var out []Link
	for _, id := range r.order {
		e := r.entries[id]
		if e.identified && slices.Contains(targets, e.cameraID) {
			out = append(out, e.link)
		}
	}
	return out
}

// Stations describes every attached connection in attach order.
func (r *Registry) Stations() []Info {
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		out = append(out, Info{
			ConnID:      id,
			Remote:      e.link.RemoteAddr(),
			CameraID:    e.cameraID,
			Identified:  e.identified,
			ConnectedAt: e.connectedAt,
			LastSeen:    e.lastSeen,
		})
	}
	return out
}

// Len returns the number of attached connections.
func (r *Registry) Len() int {
	return len(r.entries)
}

// rebuild derives presence from scratch and diffs it against the previous map.
func (r *Registry) rebuild() []PresenceChange {
	next := emptyPresence()
	for _, e := range r.entries {
		if e.identified {
			next[e.cameraID] = true
		}
	}
	var changes []PresenceChange
	for _, id := range protocol.AllCameras {
		if next[id] != r.presence[id] {
			changes = append(changes, PresenceChange{CameraID: id, Online: next[id]})
		}
	}
	r.presence = next
	return changes
}
