package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

func reply(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestVertexServiceText(t *testing.T) {
	gen := &fakeGenerator{resp: reply(genai.Text("  hello "), genai.Text("world"))}
	svc := &VertexService{model: gen}

	out, err := svc.GenerateText(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
	assert.Equal(t, []genai.Part{genai.Text("hi")}, gen.parts)
}

func TestVertexServiceImage(t *testing.T) {
	gen := &fakeGenerator{resp: reply(genai.Text("E = mc^2"))}
	svc := &VertexService{model: gen}

	out, err := svc.GenerateFromImage(context.Background(), "transcribe", []byte{1, 2}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "E = mc^2", out)
	require.Len(t, gen.parts, 2)
	assert.Equal(t, genai.Blob{MIMEType: "image/png", Data: []byte{1, 2}}, gen.parts[0])

	_, err = svc.GenerateFromImage(context.Background(), "x", nil, "image/png")
	assert.Error(t, err)
}

func TestVertexServiceNoAnswer(t *testing.T) {
	for _, resp := range []*genai.GenerateContentResponse{nil, {}, reply(), reply(genai.Text("   "))} {
		svc := &VertexService{model: &fakeGenerator{resp: resp}}
		_, err := svc.GenerateText(context.Background(), "x")
		assert.ErrorIs(t, err, ErrNoAnswer)
	}

	svc := &VertexService{model: &fakeGenerator{err: errors.New("quota")}}
	_, err := svc.GenerateText(context.Background(), "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoAnswer)
}

func TestNewVertexServiceRequiresProject(t *testing.T) {
	_, err := NewVertexService(context.Background(), VertexConfig{})
	assert.Error(t, err)
}

type fakeService struct {
	text  string
	err   error
	calls int
}

func (f *fakeService) GenerateText(context.Context, string) (string, error) {
	f.calls++
	return f.text, f.err
}

func (f *fakeService) GenerateFromImage(context.Context, string, []byte, string) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestGuardedOpensAfterFailures(t *testing.T) {
	next := &fakeService{err: errors.New("unavailable")}
	g := NewGuarded(next, GuardConfig{FailureThreshold: 2, OpenTimeout: time.Minute})

	for range 2 {
		_, err := g.GenerateText(context.Background(), "x")
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.GenerateFromImage(context.Background(), "x", []byte{1}, "image/png")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, next.calls)
}

func TestGuardedNoAnswerDoesNotTrip(t *testing.T) {
	next := &fakeService{err: ErrNoAnswer}
	g := NewGuarded(next, GuardConfig{FailureThreshold: 1})

	for range 3 {
		_, err := g.GenerateText(context.Background(), "x")
		assert.ErrorIs(t, err, ErrNoAnswer)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
	assert.Equal(t, 3, next.calls)
}

func TestGuardedRateLimitHonorsContext(t *testing.T) {
	next := &fakeService{text: "ok"}
	g := NewGuarded(next, GuardConfig{RequestsPerMinute: 1, Burst: 1})

	out, err := g.GenerateText(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.GenerateText(ctx, "x")
	assert.Error(t, err)
	assert.Equal(t, 1, next.calls)
}
