package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func dialHub(t *testing.T, h *Hub, id uint) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, id)
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Subscribers(id) == 1 }, time.Second, 5*time.Millisecond)
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHub_ActionLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := NewHub(nil)
	defer h.Close()
	conn, cleanup := dialHub(t, h, 7)
	defer cleanup()

	done := h.Action(context.Background(), 7, "Querying with SQL...", WithLayer("LAbcdefghijk"))
	ev := readEvent(t, conn)
	assert.Equal(t, TypeAction, ev.Type)
	assert.Equal(t, "Querying with SQL...", ev.Action)
	assert.Equal(t, StatusActive, ev.Status)
	assert.Equal(t, "LAbcdefghijk", ev.LayerID)
	assert.NotEmpty(t, ev.ActionID)

	done()
	done()
	end := readEvent(t, conn)
	assert.Equal(t, StatusCompleted, end.Status)
	assert.Equal(t, ev.ActionID, end.ActionID)

	h.Error(context.Background(), 7, "Error connecting to LLM.")
	errEv := readEvent(t, conn)
	assert.Equal(t, TypeError, errEv.Type)
	assert.Equal(t, "Error connecting to LLM.", errEv.Message)
}

func TestHub_OtherConversationNotDelivered(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := NewHub(nil)
	defer h.Close()
	conn, cleanup := dialHub(t, h, 1)
	defer cleanup()

	h.Error(context.Background(), 2, "not for you")
	h.Error(context.Background(), 1, "for you")

	ev := readEvent(t, conn)
	assert.Equal(t, "for you", ev.Message)
}

func TestHub_CloseDisconnects(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := NewHub(nil)
	conn, cleanup := dialHub(t, h, 3)
	defer cleanup()

	h.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Eventually(t, func() bool { return h.Subscribers(3) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	h := NewHub(nil)
	h.Error(context.Background(), 99, "nobody listening")
	h.Action(context.Background(), 99, "x")()
	assert.Equal(t, 0, h.Subscribers(99))
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	n.Error(context.Background(), 1, "x")
	n.Action(context.Background(), 1, "y", WithLayer("L"))()
}
