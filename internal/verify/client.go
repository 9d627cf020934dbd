package verify

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/bazaar/internal/remote"
)

// TextBackend classifies post text against a subscription description.
type TextBackend interface {
	Classify(ctx context.Context, text, description string, hasPhoto bool) (Verdict, error)
}

// VisionBackend classifies a post image against a subscription
// description, optionally with the listing text as extra context.
type VisionBackend interface {
	Classify(ctx context.Context, imageURL, description, listingText string) (Verdict, error)
}

const textSystemPrompt = `You classify marketplace posts for a subscription service.
Given a post and what the user is looking for, decide whether the post matches.
Respond with JSON only: {"match": true|false, "confidence": 0.0-1.0, "reason": "short explanation"}.`

const visionSystemPrompt = `You classify marketplace photos for a subscription service.
Given an image and what the user is looking for, decide whether the photo shows a matching item.
Respond with JSON only: {"match": true|false, "confidence": 0.0-1.0, "reason": "short explanation"}.`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLPart `json:"image_url,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// LLMClient talks to an OpenAI-compatible chat completions endpoint and
// implements both classification backends.
type LLMClient struct {
	endpoint    string
	textModel   string
	visionModel string
	caller      *remote.Caller
}

func NewLLMClient(endpoint, textModel, visionModel string, caller *remote.Caller) *LLMClient {
	return &LLMClient{
		endpoint:    strings.TrimSpace(endpoint),
		textModel:   textModel,
		visionModel: visionModel,
		caller:      caller,
	}
}

func (c *LLMClient) Classify(ctx context.Context, text, description string, hasPhoto bool) (Verdict, error) {
	photoHint := "The post has no photo."
	if hasPhoto {
		// The hint keeps the text model from hallucinating about image
		// content it cannot see.
		photoHint = "The post carries a photo you cannot see; judge the text only."
	}

	prompt := fmt.Sprintf("User is looking for: %s\n%s\nPost text:\n%s", description, photoHint, text)
	return c.complete(ctx, chatRequest{
		Model: c.textModel,
		Messages: []chatMessage{
			{Role: "system", Content: textSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
}

// ClassifyImage implements VisionBackend. It is named differently from
// Classify because both live on one client; the cascade binds each
// through its own interface.
func (c *LLMClient) ClassifyImage(ctx context.Context, imageURL, description, listingText string) (Verdict, error) {
	parts := []contentPart{
		{Type: "text", Text: fmt.Sprintf("User is looking for: %s", description)},
	}
	if strings.TrimSpace(listingText) != "" {
		parts = append(parts, contentPart{Type: "text", Text: "Listing text: " + listingText})
	}
	parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURLPart{URL: imageURL}})

	return c.complete(ctx, chatRequest{
		Model: c.visionModel,
		Messages: []chatMessage{
			{Role: "system", Content: visionSystemPrompt},
			{Role: "user", Content: parts},
		},
	})
}

func (c *LLMClient) complete(ctx context.Context, request chatRequest) (Verdict, error) {
	if c == nil || c.caller == nil {
		return Verdict{}, fmt.Errorf("llm client is not initialized")
	}

	var parsed chatResponse
	if err := c.caller.PostJSON(ctx, c.endpoint, request, &parsed); err != nil {
		return Verdict{}, err
	}
	if len(parsed.Choices) == 0 {
		return Verdict{}, fmt.Errorf("llm response has no choices")
	}

	decoded := parseVerdict(parsed.Choices[0].Message.Content)
	if decoded.kind == parseFailed {
		return Verdict{}, fmt.Errorf("unparseable classification response")
	}
	return decoded.verdict, nil
}

// visionAdapter narrows LLMClient to the VisionBackend interface.
type visionAdapter struct {
	client *LLMClient
}

func (a visionAdapter) Classify(ctx context.Context, imageURL, description, listingText string) (Verdict, error) {
	return a.client.ClassifyImage(ctx, imageURL, description, listingText)
}

// VisionBackendFrom exposes the client's vision side.
func VisionBackendFrom(client *LLMClient) VisionBackend {
	return visionAdapter{client: client}
}
