package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"groupchat-service/internal/auth"
	"groupchat-service/internal/chat"
	"groupchat-service/internal/models"
	"groupchat-service/internal/repositories"
)

// memGroups and memMessages fail like database/sql does when handed a dead
// context, so these tests catch event-loop work running on the request
// context after the handshake handler has returned.
type memGroups struct {
	mu      sync.Mutex
	members map[int]map[int]bool
}

func newMemGroups() *memGroups {
	return &memGroups{members: make(map[int]map[int]bool)}
}

func (g *memGroups) addMember(groupID, userID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.members[groupID] == nil {
		g.members[groupID] = make(map[int]bool)
	}
	g.members[groupID][userID] = true
}

func (g *memGroups) CreateGroup(ctx context.Context, ownerID int, name string, memberIDs []int) (models.Group, error) {
	if err := ctx.Err(); err != nil {
		return models.Group{}, err
	}
	return models.Group{ID: 1, Name: name, OwnerID: ownerID}, nil
}

func (g *memGroups) ListGroupsForUser(ctx context.Context, userID int) ([]models.Group, error) {
	return nil, ctx.Err()
}

func (g *memGroups) IsMember(ctx context.Context, groupID int, userID int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.members[groupID][userID], nil
}

func (g *memGroups) AddMember(ctx context.Context, groupID int, userID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.addMember(groupID, userID)
	return nil
}

func (g *memGroups) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	if err := ctx.Err(); err != nil {
		return models.Group{}, err
	}
	return models.Group{ID: groupID}, nil
}

type memMessages struct {
	mu     sync.Mutex
	nextID int
	msgs   []models.Message
}

func (m *memMessages) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	msg.CreatedAt = time.Now()
	m.msgs = append(m.msgs, msg)
	return msg, nil
}

func (m *memMessages) WindowedRead(ctx context.Context, groupID int, since time.Time, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.msgs {
		if msg.GroupID == groupID && !msg.CreatedAt.Before(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memMessages) FindByID(ctx context.Context, messageID int) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return models.Message{}, repositories.ErrMessageNotFound
}

func (m *memMessages) ListGroupMessages(ctx context.Context, groupID int, limit int) ([]models.Message, error) {
	return m.WindowedRead(ctx, groupID, time.Time{}, limit)
}

func newTestServer(t *testing.T, groups *memGroups) (*httptest.Server, *auth.TokenManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	service := chat.NewService(&memMessages{}, groups, hub, nil)
	tokens := auth.NewTokenManager([]byte("test-secret"), time.Hour)
	handler := NewHandler(hub, service, groups, tokens)

	r := gin.New()
	r.GET("/ws", handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, tokens
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Authorization": {"Bearer " + token},
	})
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.OutboundEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event models.OutboundEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestHandlerEventLoopAfterHandshakeReturns(t *testing.T) {
	groups := newMemGroups()
	groups.addMember(10, 1)
	srv, tokens := newTestServer(t, groups)

	token, err := tokens.Generate(models.User{ID: 1, Username: "alice"})
	require.NoError(t, err)
	conn := dialWS(t, srv, token)

	// Give the HTTP handler time to return so the read loop demonstrably
	// runs beyond the request's lifetime.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, conn.WriteJSON(models.InboundEvent{Type: models.EventPing}))
	require.Equal(t, models.EventPong, readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(models.InboundEvent{Type: models.EventWatchGroup, GroupID: 10}))
	watched := readEvent(t, conn)
	require.Equal(t, models.EventWatched, watched.Type)
	require.Equal(t, 10, watched.GroupID)

	require.NoError(t, conn.WriteJSON(models.InboundEvent{Type: models.EventSendMessage, GroupID: 10, Content: "hello @ai"}))
	delivered := readEvent(t, conn)
	require.Equal(t, models.EventNewMessage, delivered.Type)
	require.Equal(t, 10, delivered.GroupID)
	require.NotNil(t, delivered.Message)
	require.Equal(t, "hello @ai", delivered.Message.Content)
	require.Equal(t, "alice", delivered.Message.SenderName)

	require.NoError(t, conn.WriteJSON(models.InboundEvent{Type: models.EventUnwatchGroup, GroupID: 10}))
	require.Equal(t, models.EventUnwatched, readEvent(t, conn).Type)
}

func TestHandlerWatchRequiresMembership(t *testing.T) {
	groups := newMemGroups()
	srv, tokens := newTestServer(t, groups)

	token, err := tokens.Generate(models.User{ID: 2, Username: "bob"})
	require.NoError(t, err)
	conn := dialWS(t, srv, token)

	require.NoError(t, conn.WriteJSON(models.InboundEvent{Type: models.EventWatchGroup, GroupID: 10}))
	event := readEvent(t, conn)
	require.Equal(t, models.EventError, event.Type)
	require.Equal(t, "not a member of this group", event.Reason)
}

func TestHandlerUnknownEventType(t *testing.T) {
	groups := newMemGroups()
	srv, tokens := newTestServer(t, groups)

	token, err := tokens.Generate(models.User{ID: 1, Username: "alice"})
	require.NoError(t, err)
	conn := dialWS(t, srv, token)

	require.NoError(t, conn.WriteJSON(models.InboundEvent{Type: "SHOUT"}))
	event := readEvent(t, conn)
	require.Equal(t, models.EventError, event.Type)
	require.Contains(t, event.Reason, "unknown event type")
}

func TestHandlerRejectsInvalidToken(t *testing.T) {
	srv, _ := newTestServer(t, newMemGroups())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{
		"Authorization": {"Bearer not-a-token"},
	})
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
