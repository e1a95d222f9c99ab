package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-crawler/internal/resilience"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"

	// maxOCRResponse bounds the JSON reply; registry excerpts are a few pages.
	maxOCRResponse = 16 << 20
)

// MistralOCR reads registry excerpts through the hosted Mistral OCR API. The
// returned text is flattened from markdown so the excerpt patterns see the
// same line layout pdftotext produces.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	retry    resilience.RetryPolicy
}

// NewMistralOCR creates a MistralOCR extractor. If model is empty, the default is used.
func NewMistralOCR(apiKey, model string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{Timeout: 2 * time.Minute},
		retry:    resilience.DefaultRetryPolicy(),
	}
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// ExtractText uploads the excerpt inline and returns its pages as plain
// text in page order. Rate limits and 5xx replies are retried.
func (m *MistralOCR) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	if len(pdf) == 0 {
		return "", eris.New("ocr: empty document")
	}

	body, err := json.Marshal(mistralOCRRequest{
		Model: m.model,
		Document: mistralOCRDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: marshal mistral request")
	}

	policy := m.retry
	policy.OnRetry = resilience.RetryLogger("mistral", "ocr")
	pages, err := resilience.DoVal(ctx, policy, func(ctx context.Context) ([]mistralOCRPage, error) {
		return m.call(ctx, body)
	})
	if err != nil {
		return "", err
	}

	slices.SortStableFunc(pages, func(a, b mistralOCRPage) int { return a.Index - b.Index })

	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if text := flattenMarkdown(p.Markdown); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (m *MistralOCR) call(ctx context.Context, body []byte) ([]mistralOCRPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: mistral API call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxOCRResponse))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read mistral response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ocr: mistral API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal mistral response")
	}
	return ocrResp.Pages, nil
}

var (
	mdHeading   = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis  = regexp.MustCompile(`\*\*|__`)
	mdBreak     = regexp.MustCompile(`(?i)<br\s*/?>`)
	mdTableRule = regexp.MustCompile(`(?m)^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$\n?`)
	mdImage     = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
)

// flattenMarkdown strips the markup the OCR service adds. Table cells become
// space-separated so "| Amtsgericht | Hamburg |" reads like a text line.
func flattenMarkdown(md string) string {
	s := mdImage.ReplaceAllString(md, "")
	s = mdBreak.ReplaceAllString(s, "\n")
	s = mdTableRule.ReplaceAllString(s, "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, "")

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if strings.Contains(line, "|") {
			cells := strings.Split(strings.Trim(strings.TrimSpace(line), "|"), "|")
			for i := range cells {
				cells[i] = strings.TrimSpace(cells[i])
			}
			line = strings.Join(slices.DeleteFunc(cells, func(c string) bool { return c == "" }), " ")
		}
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
