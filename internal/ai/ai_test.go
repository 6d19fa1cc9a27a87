package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	deltas []string
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return strings.Join(f.deltas, ""), nil
}

func (f *fakeGenerator) Stream(ctx context.Context, messages []Message, onDelta DeltaFunc) (string, error) {
	f.calls++
	var sb strings.Builder
	for _, d := range f.deltas {
		sb.WriteString(d)
		if err := onDelta(d); err != nil {
			return sb.String(), err
		}
	}
	return sb.String(), f.err
}

func TestGroupGeneratorStreamFallsBackBeforeFirstDelta(t *testing.T) {
	first := &fakeGenerator{err: errors.New("down")}
	second := &fakeGenerator{deltas: []string{"hel", "lo"}}
	g := NewGroupGenerator([]GeneratorEntry{{Name: "a", Generator: first}, {Name: "b", Generator: second}})

	var got []string
	text, err := g.Stream(context.Background(), nil, func(d string) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "hello", text)
	require.Equal(t, []string{"hel", "lo"}, got)
}

func TestGroupGeneratorStreamStopsAfterPartialOutput(t *testing.T) {
	first := &fakeGenerator{deltas: []string{"par"}, err: errors.New("cut")}
	second := &fakeGenerator{deltas: []string{"full"}}
	g := NewGroupGenerator([]GeneratorEntry{{Generator: first}, {Generator: second}})

	_, err := g.Stream(context.Background(), nil, func(string) error { return nil })
	require.Error(t, err)
	require.Equal(t, 0, second.calls)
}

func TestOpenAIProviderStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"The ", "answer"} {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewProvider("openai", map[string]interface{}{"api_key": "key", "base_url": srv.URL})
	require.NoError(t, err)
	gen := NewGenerator(p, "gpt-4o-mini")
	var deltas []string
	text, err := gen.Stream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "The answer", text)
	require.Equal(t, []string{"The ", "answer"}, deltas)
}

func TestOpenAIProviderReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewProvider("openai", map[string]interface{}{"api_key": "key", "base_url": srv.URL})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "m", "text", TaskRetrievalDocument)
	require.ErrorContains(t, err, "429")
}

func TestVoyageEmbedInputType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body voyageEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "query", body.InputType)
		require.Equal(t, []string{"hi"}, body.Input)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"data":[{"embedding":[0.5,0.25]}]}`)
	}))
	defer srv.Close()

	p, err := NewProvider("voyage", map[string]interface{}{"api_key": "key", "base_url": srv.URL})
	require.NoError(t, err)
	vec, err := NewEmbedder(p, "voyage-3").Embed(context.Background(), "hi", TaskRetrievalQuery)
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.25}, vec)
	require.Equal(t, "query", voyageInputType(TaskRetrievalQuery))
	require.Equal(t, "document", voyageInputType(TaskRetrievalDocument))

	_, err = p.Generate(context.Background(), "m", nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider("nope", map[string]interface{}{})
	require.Error(t, err)
	_, err = NewProvider("", nil)
	require.Error(t, err)
}

func TestNewOCRRequiresCapability(t *testing.T) {
	p, err := NewProvider("openai", map[string]interface{}{"api_key": "k"})
	require.NoError(t, err)
	_, err = NewOCR(p, "m")
	require.Error(t, err)

	g, err := NewProvider("gemini", map[string]interface{}{"api_key": "k"})
	require.NoError(t, err)
	_, err = NewOCR(g, "gemini-2.0-flash")
	require.NoError(t, err)
}

func TestManagerClipsInput(t *testing.T) {
	m := NewManager(nil, nil, nil, ManagerConfig{MaxInputChars: 3})
	require.Equal(t, "héy", m.clip("héyyy"))
	_, err := m.Embed(context.Background(), "x", "")
	require.Error(t, err)
}
