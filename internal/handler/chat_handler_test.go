package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/middleware"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/errcode"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/search"
	"github.com/xxxsen/docchat/internal/service"
)

type sessionStore map[string]model.ChatSession

func (m sessionStore) Create(_ context.Context, s *model.ChatSession) error {
	m[s.ID] = *s
	return nil
}

func (m sessionStore) GetByID(_ context.Context, userID, id string) (*model.ChatSession, error) {
	s, ok := m[id]
	if !ok || s.UserID != userID {
		return nil, appErr.ErrNotFound
	}
	return &s, nil
}

func (m sessionStore) List(context.Context, string, uint, uint) ([]model.ChatSession, error) {
	return nil, nil
}

func (m sessionStore) Update(_ context.Context, s *model.ChatSession) error {
	m[s.ID] = *s
	return nil
}

func (m sessionStore) Touch(context.Context, string, int64) error { return nil }

func (m sessionStore) Delete(_ context.Context, _, id string) error {
	delete(m, id)
	return nil
}

type convStore struct{ rows []model.Conversation }

func (m *convStore) Create(_ context.Context, c *model.Conversation) error {
	m.rows = append(m.rows, *c)
	return nil
}

func (m *convStore) ListBySession(context.Context, string) ([]model.Conversation, error) {
	return m.rows, nil
}

func (m *convStore) ListRecent(context.Context, string, int) ([]model.Conversation, error) {
	return nil, nil
}

func (m *convStore) DeleteBySession(context.Context, string) error { return nil }

type docNames struct{}

func (docNames) ListByIDs(_ context.Context, userID string, ids []string) ([]model.Document, error) {
	out := make([]model.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Document{ID: id, UserID: userID, Name: id + ".pdf"})
	}
	return out, nil
}

type fixedSearcher struct {
	result *search.Result
	err    error
}

func (s fixedSearcher) HybridSearch(context.Context, string, string, search.Options) (*search.Result, error) {
	return s.result, s.err
}

type wordLLM struct {
	words []string
	err   error
}

func (l wordLLM) Answer(_ context.Context, _ []ai.Message, onDelta ai.DeltaFunc) (string, error) {
	for _, w := range l.words {
		onDelta(w)
	}
	if l.err != nil {
		return "", l.err
	}
	return strings.Join(l.words, ""), nil
}

func (l wordLLM) SuggestTitle(context.Context, string) (string, error) {
	return "Title", nil
}

func newChatRouter(llm wordLLM) (*gin.Engine, *convStore) {
	gin.SetMode(gin.TestMode)
	convs := &convStore{}
	result := &search.Result{Candidates: []search.Candidate{
		{ChunkID: "c1", DocumentID: "d1", Content: "The refund window is 30 days.", Score: 0.9},
	}}
	svc := service.NewChatService(sessionStore{}, convs, docNames{}, fixedSearcher{result: result}, llm, nil, nil,
		config.ChatConfig{TopK: 4, MaxPerDocument: 2, HistoryTurns: 2, ContextTokens: 2000})
	h := NewChatHandler(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, "u1")
		c.Next()
	})
	r.POST("/chat/ask", h.Ask)
	return r, convs
}

func postJSON(r http.Handler, path string, body interface{}, accept string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type sseEvent struct {
	name string
	data string
}

func parseEvents(body string) []sseEvent {
	var out []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		out = append(out, ev)
	}
	return out
}

func TestAskStreamsEvents(t *testing.T) {
	r, convs := newChatRouter(wordLLM{words: []string{"Refunds ", "take ", "30 days [1]."}})
	w := postJSON(r, "/chat/ask", gin.H{"question": "How long do refunds take?"}, "text/event-stream")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	events := parseEvents(w.Body.String())
	require.Len(t, events, 5)
	require.Equal(t, "sources", events[0].name)
	require.Contains(t, events[0].data, `"document":"d1.pdf"`)
	var delta struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &delta))
	require.Equal(t, "Refunds ", delta.Text)
	require.Equal(t, "done", events[4].name)
	require.Contains(t, events[4].data, `"answer":"Refunds take 30 days [1]."`)
	require.Len(t, convs.rows, 1)
}

func TestAskJSONMode(t *testing.T) {
	r, _ := newChatRouter(wordLLM{words: []string{"Thirty days."}})
	w := postJSON(r, "/chat/ask", gin.H{"question": "refunds?", "stream": false}, "")

	var env struct {
		Code int               `json:"code"`
		Data service.AskResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, 0, env.Code)
	require.Equal(t, "Thirty days.", env.Data.Conversation.Answer)
	require.NotEmpty(t, env.Data.Session.ID)
}

func TestAskValidationUsesEnvelope(t *testing.T) {
	r, _ := newChatRouter(wordLLM{})
	w := postJSON(r, "/chat/ask", gin.H{"question": "   "}, "text/event-stream")

	require.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
	var env struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, errcode.ErrInvalid, env.Code)
}

func TestAskGenerationFailureEmitsErrorEvent(t *testing.T) {
	r, convs := newChatRouter(wordLLM{words: []string{"partial "}, err: errors.New("provider down")})
	w := postJSON(r, "/chat/ask", gin.H{"question": "refunds?"}, "")

	events := parseEvents(w.Body.String())
	require.Equal(t, "error", events[len(events)-1].name)
	require.Contains(t, events[len(events)-1].data, "answer generation failed")
	require.Empty(t, convs.rows)
}
