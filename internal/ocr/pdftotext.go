package ocr

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
// The document is piped through stdin so nothing touches disk.
type PdfToText struct {
	binPath string
	layout  bool
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string, layout bool) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath, layout: layout}
}

func (p *PdfToText) args() []string {
	args := []string{"-enc", "UTF-8"}
	if p.layout {
		args = append(args, "-layout")
	}
	return append(args, "-", "-")
}

// ExtractText runs pdftotext on the document and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	if len(pdf) == 0 {
		return "", eris.New("ocr: empty document")
	}
	cmd := exec.CommandContext(ctx, p.binPath, p.args()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(pdf)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed: %s", stderr.String())
	}

	return stdout.String(), nil
}
