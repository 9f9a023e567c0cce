package ws

import (
	"encoding/json"
	"log"
	"sync"

	"groupchat-service/internal/models"
	"groupchat-service/internal/observability"
)

// Hub is the in-memory connection registry and broadcaster. It tracks the
// live handle per user, which groups each user watches, and fans messages
// out to the online watchers of a group. State is process-local and rebuilt
// from scratch on restart.
//
// The maps are sync.Maps of per-entry locked sets, so connection churn in
// one group never serializes another group's broadcast.
type Hub struct {
	conns    sync.Map // userID int -> Sender
	watchers sync.Map // groupID int -> *idSet of userIDs
	watched  sync.Map // userID int -> *idSet of groupIDs
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// idSet is one map entry. A set that drains is marked dead and pruned from
// its map; adders that lose the race to a dying set retry against a fresh one.
type idSet struct {
	mu   sync.Mutex
	ids  map[int]struct{}
	dead bool
}

func newIDSet() *idSet {
	return &idSet{ids: make(map[int]struct{})}
}

func (s *idSet) snapshot() []int {
	s.mu.Lock()
	out := make([]int, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.Unlock()
	return out
}

func addToSet(m *sync.Map, key, id int) {
	for {
		actual, _ := m.LoadOrStore(key, newIDSet())
		s := actual.(*idSet)
		s.mu.Lock()
		if s.dead {
			s.mu.Unlock()
			continue
		}
		s.ids[id] = struct{}{}
		s.mu.Unlock()
		return
	}
}

func removeFromSet(m *sync.Map, key, id int) {
	actual, ok := m.Load(key)
	if !ok {
		return
	}
	s := actual.(*idSet)
	s.mu.Lock()
	delete(s.ids, id)
	if len(s.ids) == 0 {
		s.dead = true
		m.CompareAndDelete(key, actual)
	}
	s.mu.Unlock()
}

// Connect installs or replaces the live handle for a user. A superseded
// handle simply stops receiving sends; no close is required of the caller.
func (h *Hub) Connect(userID int, sender Sender) {
	h.conns.Store(userID, sender)
}

// Disconnect removes the user's handle and clears the user out of every
// watcher set. Disconnecting an unknown user is a no-op.
func (h *Hub) Disconnect(userID int) {
	h.conns.Delete(userID)

	if val, ok := h.watched.LoadAndDelete(userID); ok {
		s := val.(*idSet)
		s.mu.Lock()
		s.dead = true
		groups := make([]int, 0, len(s.ids))
		for groupID := range s.ids {
			groups = append(groups, groupID)
		}
		s.mu.Unlock()

		for _, groupID := range groups {
			removeFromSet(&h.watchers, groupID, userID)
		}
	}
}

// DisconnectHandle disconnects the user only if sender is still the live
// handle, so a superseded connection's teardown cannot evict its
// replacement.
func (h *Hub) DisconnectHandle(userID int, sender Sender) {
	if val, ok := h.conns.Load(userID); !ok || val.(Sender) != sender {
		return
	}
	h.Disconnect(userID)
}

// Watch subscribes the user to live updates for the group.
func (h *Hub) Watch(userID, groupID int) {
	addToSet(&h.watchers, groupID, userID)
	addToSet(&h.watched, userID, groupID)
}

// Unwatch removes the subscription; unwatching an unwatched pair is a no-op.
func (h *Hub) Unwatch(userID, groupID int) {
	removeFromSet(&h.watchers, groupID, userID)
	removeFromSet(&h.watched, userID, groupID)
}

// IsOnline reports whether the user has a live handle.
func (h *Hub) IsOnline(userID int) bool {
	_, ok := h.conns.Load(userID)
	return ok
}

// OnlineWatchers returns a point-in-time snapshot of the online users
// watching the group.
func (h *Hub) OnlineWatchers(groupID int) []int {
	val, ok := h.watchers.Load(groupID)
	if !ok {
		return nil
	}
	watchers := val.(*idSet).snapshot()
	online := watchers[:0]
	for _, userID := range watchers {
		if h.IsOnline(userID) {
			online = append(online, userID)
		}
	}
	return online
}

// WatchedGroups returns a snapshot of the groups the user is watching.
func (h *Hub) WatchedGroups(userID int) []int {
	val, ok := h.watched.Load(userID)
	if !ok {
		return nil
	}
	return val.(*idSet).snapshot()
}

// BroadcastNewMessage serializes the message once and sends it to every
// online watcher of the group. A failed send is logged and skipped; it never
// aborts delivery to the remaining watchers.
func (h *Hub) BroadcastNewMessage(groupID int, msg models.Message) {
	event := models.OutboundEvent{Type: models.EventNewMessage, GroupID: groupID, Message: &msg}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	for _, userID := range h.OnlineWatchers(groupID) {
		val, ok := h.conns.Load(userID)
		if !ok {
			continue
		}
		if err := val.(Sender).Send(payload); err != nil {
			log.Printf("websocket write error: group=%d user=%d: %v", groupID, userID, err)
			observability.IncBroadcastFailure()
			continue
		}
		observability.IncBroadcastSend()
	}
}
