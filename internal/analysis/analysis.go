// Package analysis turns uploaded answer-sheet images into structured,
// graded results. The production implementation calls the Gemini
// generateContent API with the images inlined; tests substitute a fake
// through the Analyzer interface.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/logger"
)

// Analyzer extracts graded answers from a batch of sheet images. One
// call covers one scan job; every returned record belongs to the owner.
type Analyzer interface {
	Analyze(ctx context.Context, filePaths []string, ownerUserID string) ([]domain.ScannedAnswer, error)
}

const defaultEndpoint = "https://generativelanguage.googleapis.com"

// prompt instructs the model to return nothing but a JSON array so the
// response can be machine-parsed. Kept in sync with the sheetResult
// shape below.
const prompt = `You are grading scanned exam answer sheets. For each sheet image, extract:
- question_name: the exam or question set name printed on the sheet
- student_id and student_name, or null if not legible
- answers: every answered question as {"type", "problem", "answer", "accuracy", "score"}
  where type is one of "multiple_choice", "short_answer", "essay_writing", "mathematical_work",
  accuracy is "perfect" when the reading is certain, "partial" when mostly certain, "critical" when a human should verify,
  and score is the awarded points as a number.
Respond with ONLY a JSON array, one object per sheet, no markdown and no commentary.`

// sheetResult is the per-sheet object the model is asked to emit.
type sheetResult struct {
	QuestionName string              `json:"question_name"`
	StudentID    *string             `json:"student_id"`
	StudentName  *string             `json:"student_name"`
	Answers      []domain.AnswerItem `json:"answers"`
}

// GeminiAnalyzer calls the Gemini REST API directly. The zero value is
// not usable; construct with NewGeminiAnalyzer.
type GeminiAnalyzer struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

func NewGeminiAnalyzer(apiKey, model, endpoint string) *GeminiAnalyzer {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")
	if !strings.HasSuffix(endpoint, "/models") {
		endpoint += "/v1beta/models"
	}
	return &GeminiAnalyzer{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

// request/response shapes for the generateContent API. Only the fields
// we read or write are declared.
type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *GeminiAnalyzer) Analyze(ctx context.Context, filePaths []string, ownerUserID string) ([]domain.ScannedAnswer, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("analysis is not configured (missing API key)")
	}
	if len(filePaths) == 0 {
		return nil, fmt.Errorf("no images to analyze")
	}

	parts := []geminiPart{{Text: prompt}}
	for _, path := range filePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", filepath.Base(path), err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		parts = append(parts, geminiPart{
			InlineData: &geminiInlineData{
				MimeType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(data),
			},
		})
	}

	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Parts: parts}}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", g.endpoint, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode analysis response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("analysis API error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("analysis response contained no candidates")
	}

	text := parsed.Candidates[0].Content.Parts[0].Text
	results, err := ParseResults(text, ownerUserID)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Analysis of %d image(s) produced %d result(s) in %v", len(filePaths), len(results), time.Since(start).Round(time.Millisecond))
	return results, nil
}

// jsonArrayPattern pulls the first JSON array out of the model's text,
// tolerating markdown fences or stray prose around it.
var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// ParseResults extracts the JSON array from raw model output and maps
// each sheet object to a ScannedAnswer owned by ownerUserID. The job id
// is left blank for the caller to fill.
func ParseResults(text, ownerUserID string) ([]domain.ScannedAnswer, error) {
	raw := jsonArrayPattern.FindString(text)
	if raw == "" {
		return nil, fmt.Errorf("analysis output contained no JSON array")
	}

	var sheets []sheetResult
	if err := json.Unmarshal([]byte(raw), &sheets); err != nil {
		return nil, fmt.Errorf("failed to parse analysis output: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	results := make([]domain.ScannedAnswer, 0, len(sheets))
	for _, sheet := range sheets {
		if sheet.Answers == nil {
			sheet.Answers = []domain.AnswerItem{}
		}
		results = append(results, domain.ScannedAnswer{
			ID:           uuid.New().String(),
			OwnerUserID:  ownerUserID,
			QuestionName: sheet.QuestionName,
			StudentID:    sheet.StudentID,
			StudentName:  sheet.StudentName,
			ScannedAt:    now,
			UpdatedAt:    now,
			Answers:      sheet.Answers,
		})
	}
	return results, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
