package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/contextid"
	"github.com/ZaidMadanat/alfworld-whiteagent/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *Registry, *session.Service) {
	t.Helper()
	svc := session.NewService(session.Options{Config: agent.DefaultConfig()})
	registry := NewRegistry()
	srv := httptest.NewServer(contextid.Middleware(NewHandler(svc, registry, nil, nil)))
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Close()
	})
	return srv, registry, svc
}

func dial(t *testing.T, srv *httptest.Server, contextID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + contextid.QueryParam + "=" + contextID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	var hello Reply
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	require.Equal(t, "connected", hello.Type)
	require.Equal(t, contextID, hello.ContextID)
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame any) Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, frame))
	var reply Reply
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	return reply
}

func TestEpisodeOverWebSocket(t *testing.T) {
	t.Parallel()
	srv, registry, _ := newTestServer(t)
	conn := dial(t, srv, "ws-ctx")

	obs := "You are in the middle of a room."
	reply := roundTrip(t, conn, Frame{Type: TypeReset, Obs: &obs})
	assert.Equal(t, "observation", reply.Type)
	assert.Equal(t, obs, reply.Observation)

	reply = roundTrip(t, conn, Frame{Type: TypeAct, Observation: "The lamp is off."})
	assert.Equal(t, "action", reply.Type)
	assert.Equal(t, "turn on lamp", reply.Action)

	reply = roundTrip(t, conn, Frame{Type: TypeObserve, Reward: 1, Done: true})
	require.Equal(t, "snapshot", reply.Type)
	require.NotNil(t, reply.Snapshot)
	assert.True(t, reply.Snapshot.NeedsReset)
	assert.Len(t, reply.Snapshot.Reflections, 1)

	reply = roundTrip(t, conn, Frame{Type: TypeStats})
	require.NotNil(t, reply.Snapshot)
	assert.Equal(t, "turn on lamp", reply.Snapshot.LastAction)

	assert.Equal(t, 1, registry.Len())
}

func TestWebSocketControlFrames(t *testing.T) {
	t.Parallel()
	srv, registry, _ := newTestServer(t)
	conn := dial(t, srv, "ctl")

	assert.Equal(t, "pong", roundTrip(t, conn, Frame{Type: TypePing}).Type)

	reply := roundTrip(t, conn, Frame{Type: "jump"})
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "unknown frame type", reply.Error)

	reply = roundTrip(t, conn, Frame{Type: TypeObserve})
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "unknown context", reply.Error)

	reply = roundTrip(t, conn, map[string]any{"type": 42})
	assert.Equal(t, "invalid frame", reply.Error)

	reply = roundTrip(t, conn, Frame{Type: TypeTerminate})
	assert.Equal(t, "terminated", reply.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	require.Eventually(t, func() bool { return registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistryDisconnectClosesChannel(t *testing.T) {
	t.Parallel()
	srv, registry, _ := newTestServer(t)
	conn := dial(t, srv, "to-cancel")

	require.Eventually(t, func() bool { return registry.Get("to-cancel") != nil }, 2*time.Second, 10*time.Millisecond)
	registry.Disconnect("to-cancel")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, registry.Len())
}

func TestNewerConnectionReplacesOlder(t *testing.T) {
	t.Parallel()
	srv, registry, _ := newTestServer(t)
	first := dial(t, srv, "shared")
	second := dial(t, srv, "shared")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	assert.Equal(t, "pong", roundTrip(t, second, Frame{Type: TypePing}).Type)
	assert.Equal(t, 1, registry.Len())
}

func TestObserveFrameToleratesNonObjectInfo(t *testing.T) {
	t.Parallel()
	srv, _, svc := newTestServer(t)
	conn := dial(t, srv, "loose-info")

	obs := "You are in a kitchen."
	reply := roundTrip(t, conn, Frame{Type: TypeReset, Obs: &obs})
	require.Equal(t, "observation", reply.Type)
	reply = roundTrip(t, conn, Frame{Type: TypeAct, Observation: "You see a shelf."})
	require.Equal(t, "action", reply.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw := `{"type":"observe","action":"look","reward":1,"done":true,"info":"oops"}`
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(raw)))
	require.NoError(t, wsjson.Read(ctx, conn, &reply))

	require.Equal(t, "snapshot", reply.Type, reply.Error)
	require.NotNil(t, reply.Snapshot)
	assert.Equal(t, 1, reply.Snapshot.Stats.TrajectoryLength)
	assert.True(t, reply.Snapshot.NeedsReset)
	require.Len(t, reply.Snapshot.Reflections, 1)

	snap, err := svc.Stats("loose-info")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Stats.ReflectionsCount)
}
