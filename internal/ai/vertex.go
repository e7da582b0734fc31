package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// SystemPrompt frames every request sent to the model.
const SystemPrompt = "You are a precise document analysis assistant. You read scanned and " +
	"digital document pages and answer exactly what is asked, without preambles."

// VertexConfig selects the Vertex AI project and model.
type VertexConfig struct {
	ProjectID string `mapstructure:"project_id" yaml:"project_id" json:"project_id"`
	Region    string `mapstructure:"region" yaml:"region" json:"region"`
	Model     string `mapstructure:"model" yaml:"model" json:"model"`
}

// Enabled reports whether a project is configured.
func (c VertexConfig) Enabled() bool {
	return c.ProjectID != "" && c.Region != ""
}

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-1.5-pro"

// generator is implemented by *genai.GenerativeModel.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexService talks to Gemini on Vertex AI.
type VertexService struct {
	model  generator
	client *genai.Client
}

// NewVertexService creates a client with a deterministic generation config.
func NewVertexService(ctx context.Context, cfg VertexConfig) (*VertexService, error) {
	if !cfg.Enabled() {
		return nil, errors.New("vertex ai: project ID and region cannot be empty")
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	name := cfg.Model
	if name == "" {
		name = DefaultModel
	}
	model := client.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}
	return &VertexService{model: model, client: client}, nil
}

// GenerateText sends a text-only prompt.
func (s *VertexService) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("vertex ai generate: %w", err)
	}
	return responseText(resp)
}

// GenerateFromImage sends an image followed by the prompt.
func (s *VertexService) GenerateFromImage(ctx context.Context, prompt string, img []byte, mimeType string) (string, error) {
	if len(img) == 0 {
		return "", errors.New("vertex ai: empty image")
	}
	resp, err := s.model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: img}, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("vertex ai generate: %w", err)
	}
	return responseText(resp)
}

// Close releases the client.
func (s *VertexService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoAnswer
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrNoAnswer
	}
	return out, nil
}
