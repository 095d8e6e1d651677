// Package gpt locates captcha icon regions with an OpenAI vision model. It
// is the alternative to the ONNX detector for machines without OpenCV.
package gpt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"net/http"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dreamup/checkin-agent/internal/captcha"
)

// DefaultModel has vision capabilities
const DefaultModel = openai.GPT4o

// Detector asks a vision model for the bounding boxes of the icons drawn
// on the challenge background.
type Detector struct {
	client *openai.Client
	model  string
}

// NewDetector creates a detector. An empty apiKey falls back to
// OPENAI_API_KEY.
func NewDetector(apiKey string) (*Detector, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not provided and not found in environment")
		}
	}
	return NewDetectorWithConfig(openai.DefaultConfig(apiKey)), nil
}

// NewDetectorWithConfig creates a detector from a full client config, e.g.
// one pointing BaseURL at a compatible endpoint.
func NewDetectorWithConfig(cfg openai.ClientConfig) *Detector {
	return &Detector{
		client: openai.NewClientWithConfig(cfg),
		model:  DefaultModel,
	}
}

// SetModel changes the vision model.
func (d *Detector) SetModel(model string) {
	if model != "" {
		d.model = model
	}
}

type boxesResponse struct {
	Boxes []captcha.BoundingBox `json:"boxes"`
}

// Detect implements captcha.Detector. Boxes outside the image or with no
// area are dropped.
func (d *Detector) Detect(ctx context.Context, img []byte) ([]captcha.BoundingBox, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode background: %w", err)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(img), base64.StdEncoding.EncodeToString(img))

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: buildPrompt(cfg.Width, cfg.Height),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		MaxTokens:   500,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("vision API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from vision API")
	}

	content := stripMarkdownCodeFence(resp.Choices[0].Message.Content)
	var parsed boxesResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse vision response: %w (content: %s)", err, content)
	}

	bounds := image.Rect(0, 0, cfg.Width, cfg.Height)
	boxes := make([]captcha.BoundingBox, 0, len(parsed.Boxes))
	for _, b := range parsed.Boxes {
		r := b.Rect().Intersect(bounds)
		if r.Empty() {
			continue
		}
		boxes = append(boxes, captcha.BoundingBox{XMin: r.Min.X, YMin: r.Min.Y, XMax: r.Max.X, YMax: r.Max.Y})
	}
	return boxes, nil
}

func buildPrompt(w, h int) string {
	return fmt.Sprintf(`You are locating small icons drawn on a CAPTCHA background image.

The image is %dx%d pixels with origin (0,0) at the TOP-LEFT corner.

Find every distinct icon or symbol placed on the background (usually 3 to 5) and return a tight bounding box for each.
Return ONLY a JSON object with this exact format:
{
  "boxes": [
    {"x_min": <left>, "y_min": <top>, "x_max": <right>, "y_max": <bottom>}
  ]
}

If no icons are visible, return {"boxes": []}.`, w, h)
}

// stripMarkdownCodeFence removes ```json fences some models wrap around JSON.
func stripMarkdownCodeFence(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimSpace(strings.TrimPrefix(text, fence))
			if idx := strings.Index(text, "```"); idx != -1 {
				text = text[:idx]
			}
			break
		}
	}
	return strings.TrimSpace(text)
}
