package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjestrada2/farmane/internal/models"
	"github.com/jjestrada2/farmane/internal/orchestrator"
	"github.com/jjestrada2/farmane/internal/store"
)

type fakeChat struct {
	sendErr   error
	cancelErr error
	sent      []orchestrator.SendRequest
	cancelled []string
}

func (f *fakeChat) Send(_ context.Context, req orchestrator.SendRequest) (*orchestrator.SendResult, error) {
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	id := req.ConversationID
	if id == 0 {
		id = 7
	}
	return &orchestrator.SendResult{
		ConversationID: id,
		SentMessage:    req.Message,
		MessageID:      11,
		Status:         orchestrator.StatusProcessingStarted,
	}, nil
}

func (f *fakeChat) Cancel(_ context.Context, mapID, userID string) error {
	f.cancelled = append(f.cancelled, mapID+"/"+userID)
	return f.cancelErr
}

type fakeTranscripts struct {
	owner string
	msgs  []store.VisibleMessage
}

func (f *fakeTranscripts) Conversation(_ context.Context, id uint, ownerID string) (*models.Conversation, error) {
	if ownerID != f.owner {
		return nil, fmt.Errorf("conversation %d: %w", id, store.ErrNotFound)
	}
	return &models.Conversation{ID: id, OwnerID: ownerID}, nil
}

func (f *fakeTranscripts) Visible(ctx context.Context, id uint, ownerID string) ([]store.VisibleMessage, error) {
	if _, err := f.Conversation(ctx, id, ownerID); err != nil {
		return nil, err
	}
	return f.msgs, nil
}

type fakeNotifications struct {
	served []uint
}

func (f *fakeNotifications) ServeWS(w http.ResponseWriter, _ *http.Request, id uint) error {
	f.served = append(f.served, id)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type harness struct {
	chat   *fakeChat
	trans  *fakeTranscripts
	notes  *fakeNotifications
	router http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		chat:  &fakeChat{},
		trans: &fakeTranscripts{owner: "bob"},
		notes: &fakeNotifications{},
	}
	router, err := NewRouter(Deps{
		Chat:          h.chat,
		Transcripts:   h.trans,
		Notifications: h.notes,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "# metrics")
		}),
	})
	require.NoError(t, err)
	h.router = router
	return h
}

func (h *harness) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewRouter_RequiresDeps(t *testing.T) {
	_, err := NewRouter(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat is required")

	_, err = NewRouter(Deps{Chat: &fakeChat{}})
	assert.Contains(t, err.Error(), "transcripts are required")

	_, err = NewRouter(Deps{Chat: &fakeChat{}, Transcripts: &fakeTranscripts{}})
	assert.Contains(t, err.Error(), "notifications are required")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = h.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestSend_RequiresUser(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/conversations/0/maps/Mmap1/send", "", `{"message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.chat.sent)
}

func TestSend_NewConversation(t *testing.T) {
	h := newHarness(t)
	body := `{"message":"buffer the rivers","selected_feature":{"layer_id":"Lriv","feature_id":"3"}}`
	rec := h.do(http.MethodPost, "/api/conversations/0/maps/Mmap1/send", "bob", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	assert.Equal(t, float64(7), out["conversation_id"])
	assert.Equal(t, "buffer the rivers", out["sent_message"])
	assert.Equal(t, "processing_started", out["status"])
	assert.NotContains(t, out, "state")

	require.Len(t, h.chat.sent, 1)
	req := h.chat.sent[0]
	assert.Equal(t, uint(0), req.ConversationID)
	assert.Equal(t, "Mmap1", req.MapID)
	assert.Equal(t, "bob", req.UserID)
	assert.False(t, req.AwaitEnd)
	require.NotNil(t, req.SelectedFeature)
	assert.Equal(t, "Lriv", req.SelectedFeature.LayerID)
}

func TestSend_AwaitEndQuery(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/conversations/4/maps/Mmap1/send?await_end=true", "bob", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.chat.sent, 1)
	assert.True(t, h.chat.sent[0].AwaitEnd)
	assert.Equal(t, uint(4), h.chat.sent[0].ConversationID)
}

func TestSend_BadRequests(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/conversations/abc/maps/Mmap1/send", "bob", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/conversations/0/maps/Mmap1/send", "bob", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/conversations/0/maps/Mmap1/send", "bob", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, h.chat.sent)
}

func TestSend_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"conflict", orchestrator.ErrConflict, http.StatusConflict, conflictDetail},
		{"protocol", fmt.Errorf("run: %w", orchestrator.ErrProtocol), http.StatusBadRequest, ""},
		{"empty", orchestrator.ErrEmptyMessage, http.StatusBadRequest, "Message is empty"},
		{"missing map", fmt.Errorf("map Mx: %w", orchestrator.ErrNotFound), http.StatusNotFound, "Not found"},
		{"missing conversation", fmt.Errorf("conversation 9: %w", store.ErrNotFound), http.StatusNotFound, "Not found"},
		{"internal", errors.New("db down"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.chat.sendErr = tc.err
			rec := h.do(http.MethodPost, "/api/conversations/0/maps/Mmap1/send", "bob", `{"message":"hi"}`)
			assert.Equal(t, tc.status, rec.Code)
			if tc.detail != "" {
				assert.Equal(t, tc.detail, decode(t, rec)["detail"])
			}
		})
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/maps/Mmap1/messages/cancel", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode(t, rec)["status"])
	assert.Equal(t, []string{"Mmap1/bob"}, h.chat.cancelled)
}

func TestCancel_ErrorMapping(t *testing.T) {
	h := newHarness(t)

	h.chat.cancelErr = orchestrator.ErrForbidden
	rec := h.do(http.MethodPost, "/api/maps/Mmap1/messages/cancel", "eve", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	h.chat.cancelErr = orchestrator.ErrNotFound
	rec = h.do(http.MethodPost, "/api/maps/Mnope/messages/cancel", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessages(t *testing.T) {
	h := newHarness(t)
	h.trans.msgs = []store.VisibleMessage{
		{ID: 1, ConversationID: 3, Role: "user", Content: "hi"},
		{ID: 2, ConversationID: 3, Role: "assistant", Content: "hello"},
	}

	rec := h.do(http.MethodGet, "/api/conversations/3/messages", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(3), out["conversation_id"])
	msgs, ok := out["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)

	rec = h.do(http.MethodGet, "/api/conversations/3/messages", "eve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWS_ChecksOwnership(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/conversations/3/ws", "eve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, h.notes.served)

	rec = h.do(http.MethodGet, "/api/conversations/3/ws", "bob", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uint{3}, h.notes.served)
}
