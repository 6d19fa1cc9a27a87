package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/model"
)

var errClientGone = errors.New("client disconnected")

// sseSink writes answer events to the client. Headers are sent with the
// first event so errors raised before streaming still use the JSON envelope.
type sseSink struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
	failed  bool
}

func newSSESink(c *gin.Context) *sseSink {
	flusher, _ := c.Writer.(http.Flusher)
	return &sseSink{c: c, flusher: flusher}
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
}

func (s *sseSink) event(name string, payload interface{}) error {
	if s.failed {
		return errClientGone
	}
	s.start()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := s.c.Writer.Write([]byte("event: " + name + "\ndata: " + string(data) + "\n\n")); err != nil {
		s.failed = true
		return errClientGone
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseSink) Sources(sources []model.Source) {
	_ = s.event("sources", gin.H{"sources": sources})
}

func (s *sseSink) Delta(text string) error {
	return s.event("delta", gin.H{"text": text})
}

// discardSink collects nothing; used for non-streaming requests.
type discardSink struct{}

func (discardSink) Sources([]model.Source) {}
func (discardSink) Delta(string) error { return nil }
