package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"risk-assessment-service/internal/config"
	"risk-assessment-service/internal/domain/assessment"
)

var (
	// ErrNotConfigured means the API credential is absent; no network call
	// is attempted in that state.
	ErrNotConfigured = errors.New("gemini api key is not configured")
	// ErrBadResponse means the service answered but the payload did not
	// match the expected shape.
	ErrBadResponse = errors.New("unexpected gemini response")
)

// Client talks to the Gemini generateContent API for both analysis passes:
// hazard detection over the whole image and the per-hazard risk detail.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(cfg config.AIConfig, log zerolog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Enabled reports whether a credential is present.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// DetectHazards runs the detection pass. An empty hazard list is a valid
// result; individual malformed entries are dropped, a response that is not
// a JSON array at all is an error.
func (c *Client) DetectHazards(ctx context.Context, imageData []byte, mimeType, model string) ([]assessment.HazardRegion, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	width, height, err := decodeImageSize(imageData)
	if err != nil {
		return nil, fmt.Errorf("failed to read image dimensions: %w", err)
	}

	text, err := c.generate(ctx, model, detectionPrompt, imageData, mimeType)
	if err != nil {
		return nil, err
	}

	raws, undecodable, err := parseDetections(text)
	if err != nil {
		return nil, err
	}
	if undecodable > 0 {
		c.log.Debug().
			Int("dropped", undecodable).
			Msg("dropping undecodable detection entries")
	}

	regions := make([]assessment.HazardRegion, 0, len(raws))
	for _, raw := range raws {
		region, ok := raw.toRegion(width, height)
		if !ok {
			c.log.Debug().
				Str("label", raw.Label).
				Int("mask_points", len(raw.Mask)).
				Msg("dropping malformed detection entry")
			continue
		}
		regions = append(regions, region)
	}

	c.log.Debug().
		Str("model", model).
		Int("detected", len(raws)+undecodable).
		Int("kept", len(regions)).
		Msg("detection pass complete")

	return regions, nil
}

type rawDetail struct {
	RiskName                        string   `json:"risk_name"`
	SeverityScore                   int      `json:"severity_score"`
	LikelihoodScore                 int      `json:"likelihood_score"`
	RiskLevelVerbalDescription      string   `json:"risk_level_verbal_description"`
	CorrectivePreventiveMeasures    []string `json:"corrective_preventive_measures"`
	InternationalStandardsReferences []string `json:"international_standards_references"`
	RelevantThaiLaws                []string `json:"relevant_thai_laws"`
	KubotaStandardsReferences       []string `json:"kubota_standards_references"`
}

// AssessHazard runs the detail pass for one labeled hazard. Missing optional
// reference lists normalize to empty slices; out-of-range scores are clamped
// to the 1-5 scale.
func (c *Client) AssessHazard(ctx context.Context, label string, imageData []byte, mimeType, model string) (*assessment.RiskDetail, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	text, err := c.generate(ctx, model, detailPrompt(label), imageData, mimeType)
	if err != nil {
		return nil, err
	}

	var raw rawDetail
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &raw); err != nil {
		return nil, fmt.Errorf("%w: detail payload is not a JSON object: %v", ErrBadResponse, err)
	}
	if raw.SeverityScore == 0 && raw.LikelihoodScore == 0 {
		return nil, fmt.Errorf("%w: detail payload carries no scores", ErrBadResponse)
	}

	return &assessment.RiskDetail{
		Severity:               clampScore(raw.SeverityScore),
		Likelihood:             clampScore(raw.LikelihoodScore),
		Description:            strings.TrimSpace(raw.RiskLevelVerbalDescription),
		CorrectiveMeasures:     nonNil(raw.CorrectivePreventiveMeasures),
		StandardsReferences:    nonNil(raw.InternationalStandardsReferences),
		LegalReferences:        nonNil(raw.RelevantThaiLaws),
		OrganizationReferences: nonNil(raw.KubotaStandardsReferences),
	}, nil
}

func (c *Client) generate(ctx context.Context, model, prompt string, imageData []byte, mimeType string) (string, error) {
	reqBody := generateRequest{
		Contents: []content{
			{
				Role: "user",
				Parts: []part{
					{Text: prompt},
					{InlineData: &inlineData{
						MIMEType: mimeType,
						Data:     base64.StdEncoding.EncodeToString(imageData),
					}},
				},
			},
		},
		GenerationConfig: generationConfig{
			Temperature:      0.25,
			MaxOutputTokens:  4096,
			ResponseMIMEType: "application/json",
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read gemini response: %w", err)
	}

	var parsed generateResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("gemini http %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("gemini http %d", resp.StatusCode)
	}

	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrBadResponse)
	}

	var b strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimSpace(p.Text))
	}

	c.log.Debug().
		Str("model", model).
		Dur("took", time.Since(start)).
		Msg("gemini call finished")

	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrBadResponse)
	}
	return b.String(), nil
}

func clampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 5 {
		return 5
	}
	return score
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
