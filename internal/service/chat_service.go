package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/cache"
	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/metrics"
	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/timeutil"
	"github.com/xxxsen/docchat/internal/search"
)

const (
	maxQuestionRunes = 4000
	maxTitleRunes    = 200
	titleTimeout     = 10 * time.Second
)

type chatSessions interface {
	Create(ctx context.Context, s *model.ChatSession) error
	GetByID(ctx context.Context, userID, sessionID string) (*model.ChatSession, error)
	List(ctx context.Context, userID string, offset, limit uint) ([]model.ChatSession, error)
	Update(ctx context.Context, s *model.ChatSession) error
	Touch(ctx context.Context, sessionID string, mtime int64) error
	Delete(ctx context.Context, userID, sessionID string) error
}

type chatConversations interface {
	Create(ctx context.Context, c *model.Conversation) error
	ListBySession(ctx context.Context, sessionID string) ([]model.Conversation, error)
	ListRecent(ctx context.Context, sessionID string, limit int) ([]model.Conversation, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}

type chatDocuments interface {
	ListByIDs(ctx context.Context, userID string, docIDs []string) ([]model.Document, error)
}

type chatSearcher interface {
	HybridSearch(ctx context.Context, userID, query string, opts search.Options) (*search.Result, error)
}

type chatLLM interface {
	Answer(ctx context.Context, messages []ai.Message, onDelta ai.DeltaFunc) (string, error)
	SuggestTitle(ctx context.Context, question string) (string, error)
}

// Sink receives the parts of an answer as they become available. A Delta
// error aborts generation.
type Sink interface {
	Sources(sources []model.Source)
	Delta(text string) error
}

type ChatService struct {
	sessions chatSessions
	convs    chatConversations
	docs     chatDocuments
	searcher chatSearcher
	llm      chatLLM
	cache    cache.Cache
	counter  ai.TokenCounter
	cfg      config.ChatConfig
}

func NewChatService(sessions chatSessions, convs chatConversations, docs chatDocuments, searcher chatSearcher,
	llm chatLLM, answers cache.Cache, counter ai.TokenCounter, cfg config.ChatConfig) *ChatService {
	if counter == nil {
		counter = ai.EstimateCounter{}
	}
	return &ChatService{
		sessions: sessions,
		convs:    convs,
		docs:     docs,
		searcher: searcher,
		llm:      llm,
		cache:    answers,
		counter:  counter,
		cfg:      cfg,
	}
}

type SessionInput struct {
	Title       string
	DocumentIDs []string
}

func (s *ChatService) CreateSession(ctx context.Context, userID string, in SessionInput) (*model.ChatSession, error) {
	docIDs, err := s.ownedDocuments(ctx, userID, in.DocumentIDs)
	if err != nil {
		return nil, err
	}
	now := timeutil.NowUnix()
	session := &model.ChatSession{
		ID:          newID(),
		UserID:      userID,
		Title:       clipRunes(strings.TrimSpace(in.Title), maxTitleRunes),
		DocumentIDs: docIDs,
		Ctime:       now,
		Mtime:       now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) GetSession(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	return s.sessions.GetByID(ctx, userID, sessionID)
}

func (s *ChatService) ListSessions(ctx context.Context, userID string, offset, limit uint) ([]model.ChatSession, error) {
	return s.sessions.List(ctx, userID, offset, limit)
}

func (s *ChatService) UpdateSession(ctx context.Context, userID, sessionID string, in SessionInput) (*model.ChatSession, error) {
	session, err := s.sessions.GetByID(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if title := strings.TrimSpace(in.Title); title != "" {
		session.Title = clipRunes(title, maxTitleRunes)
	}
	if in.DocumentIDs != nil {
		docIDs, err := s.ownedDocuments(ctx, userID, in.DocumentIDs)
		if err != nil {
			return nil, err
		}
		session.DocumentIDs = docIDs
	}
	session.Mtime = timeutil.NowUnix()
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.sessions.GetByID(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := s.convs.DeleteBySession(ctx, sessionID); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, userID, sessionID)
}

func (s *ChatService) History(ctx context.Context, userID, sessionID string) ([]model.Conversation, error) {
	if _, err := s.sessions.GetByID(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.convs.ListBySession(ctx, sessionID)
}

// ownedDocuments dedupes ids and rejects any the user does not own.
func (s *ChatService) ownedDocuments(ctx context.Context, userID string, ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return []string{}, nil
	}
	docs, err := s.docs.ListByIDs(ctx, userID, out)
	if err != nil {
		return nil, err
	}
	if len(docs) != len(out) {
		return nil, appErr.ErrNotFound
	}
	return out, nil
}

type AskInput struct {
	UserID      string
	SessionID   string
	Question    string
	DocumentIDs []string
}

type AskResult struct {
	Session      *model.ChatSession  `json:"session"`
	Conversation *model.Conversation `json:"conversation"`
}

type cachedAnswer struct {
	Answer  string         `json:"answer"`
	Sources []model.Source `json:"sources"`
}

// Ask answers question against the user's documents, streaming the answer
// through sink and persisting the turn. A session is created when
// SessionID is empty.
func (s *ChatService) Ask(ctx context.Context, in AskInput, sink Sink) (*AskResult, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" || in.UserID == "" || utf8.RuneCountInString(question) > maxQuestionRunes {
		return nil, appErr.ErrInvalid
	}
	start := time.Now()
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", in.UserID))

	session, created, err := s.resolveSession(ctx, in)
	if err != nil {
		return nil, err
	}
	scope := session.DocumentIDs
	if len(in.DocumentIDs) > 0 {
		if scope, err = s.ownedDocuments(ctx, in.UserID, in.DocumentIDs); err != nil {
			return nil, err
		}
	}

	key := responseCacheKey(in.UserID, scope, question)
	if hit, ok := s.lookup(ctx, key); ok {
		sink.Sources(hit.Sources)
		if err := sink.Delta(hit.Answer); err != nil {
			return nil, err
		}
		conv, err := s.persist(ctx, session, question, hit.Answer, hit.Sources, true, start)
		if err != nil {
			return nil, err
		}
		metrics.ChatLatency.WithLabelValues("true").Observe(time.Since(start).Seconds())
		s.finishSession(ctx, session, created, question)
		return &AskResult{Session: session, Conversation: conv}, nil
	}

	found, err := s.searcher.HybridSearch(ctx, in.UserID, question, search.Options{
		TopK:           s.cfg.TopK,
		MaxPerDocument: s.cfg.MaxPerDocument,
		DocumentIDs:    scope,
	})
	if err != nil {
		return nil, err
	}
	if found.Degraded != "" {
		logger.Warn("search degraded", zap.String("leg", found.Degraded))
	}

	var (
		answer  string
		sources []model.Source
	)
	if len(found.Candidates) == 0 {
		answer = noSourcesAnswer
		sources = []model.Source{}
		sink.Sources(sources)
		if err := sink.Delta(answer); err != nil {
			return nil, err
		}
	} else {
		names, err := s.documentNames(ctx, in.UserID, found.Candidates)
		if err != nil {
			return nil, err
		}
		history, err := s.convs.ListRecent(ctx, session.ID, s.cfg.HistoryTurns)
		if err != nil {
			return nil, err
		}
		var messages []ai.Message
		messages, sources = buildPrompt(s.counter, promptInput{
			question:   question,
			candidates: found.Candidates,
			docNames:   names,
			history:    history,
			budget:     s.cfg.ContextTokens,
		})
		sink.Sources(sources)
		answer, err = s.llm.Answer(ctx, messages, sink.Delta)
		if err != nil {
			logger.Error("generate answer failed", zap.Error(err))
			return nil, err
		}
	}

	conv, err := s.persist(ctx, session, question, answer, sources, false, start)
	if err != nil {
		return nil, err
	}
	if len(found.Candidates) > 0 {
		s.store(ctx, key, cachedAnswer{Answer: answer, Sources: sources})
	}
	metrics.ChatLatency.WithLabelValues("false").Observe(time.Since(start).Seconds())
	s.finishSession(ctx, session, created, question)
	return &AskResult{Session: session, Conversation: conv}, nil
}

func (s *ChatService) resolveSession(ctx context.Context, in AskInput) (*model.ChatSession, bool, error) {
	if in.SessionID != "" {
		session, err := s.sessions.GetByID(ctx, in.UserID, in.SessionID)
		return session, false, err
	}
	session, err := s.CreateSession(ctx, in.UserID, SessionInput{DocumentIDs: in.DocumentIDs})
	return session, true, err
}

func (s *ChatService) lookup(ctx context.Context, key string) (*cachedAnswer, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logutil.GetLogger(ctx).Warn("answer cache get failed", zap.Error(err))
	}
	if !ok {
		metrics.Hit("answer", false)
		return nil, false
	}
	var hit cachedAnswer
	if err := json.Unmarshal(raw, &hit); err != nil {
		metrics.Hit("answer", false)
		return nil, false
	}
	metrics.Hit("answer", true)
	return &hit, true
}

func (s *ChatService) store(ctx context.Context, key string, value cachedAnswer) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw); err != nil {
		logutil.GetLogger(ctx).Warn("answer cache set failed", zap.Error(err))
	}
}

func (s *ChatService) documentNames(ctx context.Context, userID string, cands []search.Candidate) (map[string]string, error) {
	ids := make([]string, 0, len(cands))
	seen := make(map[string]struct{}, len(cands))
	for _, c := range cands {
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		ids = append(ids, c.DocumentID)
	}
	docs, err := s.docs.ListByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(docs))
	for _, d := range docs {
		names[d.ID] = d.Name
	}
	return names, nil
}

func (s *ChatService) persist(ctx context.Context, session *model.ChatSession, question, answer string,
	sources []model.Source, cached bool, start time.Time) (*model.Conversation, error) {
	conv := &model.Conversation{
		ID:        newID(),
		SessionID: session.ID,
		UserID:    session.UserID,
		Question:  question,
		Answer:    answer,
		Sources:   sources,
		Cached:    cached,
		LatencyMs: time.Since(start).Milliseconds(),
		Ctime:     timeutil.NowUnix(),
	}
	if err := s.convs.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// finishSession bumps the session and names it after its first question.
func (s *ChatService) finishSession(ctx context.Context, session *model.ChatSession, created bool, question string) {
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", session.ID))
	now := timeutil.NowUnix()
	if !created || session.Title != "" {
		if err := s.sessions.Touch(ctx, session.ID, now); err != nil {
			logger.Warn("touch session failed", zap.Error(err))
		}
		session.Mtime = now
		return
	}
	titleCtx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()
	title, err := s.llm.SuggestTitle(titleCtx, question)
	if err != nil {
		logger.Debug("suggest title failed", zap.Error(err))
		title = defaultTitle(question)
	}
	session.Title = clipRunes(title, maxTitleRunes)
	session.Mtime = now
	if err := s.sessions.Update(ctx, session); err != nil {
		logger.Warn("update session title failed", zap.Error(err))
	}
}

func clipRunes(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
