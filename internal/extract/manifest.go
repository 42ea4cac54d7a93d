package extract

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/matricula-crawler/internal/record"
)

// ErrManifestNotFound means the viewer constructor call carrying the image
// manifest is missing from the page.
var ErrManifestNotFound = errors.New("image manifest not found")

// The register viewer is set up in the last inline script of the body:
//
//	dv1 = new arc.imageview.MatriculaDocView("document", { "labels": [...], "files": [...] })
var manifestCall = regexp.MustCompile(
	`dv1\s*=\s*new\s+arc\.imageview\.MatriculaDocView\("document",\s*\{[^}]*"labels"\s*:\s*(\[[^\]]*\]),[^}]*"files"\s*:\s*(\[[^\]]*\])`,
)

// Each file is wrapped as /image/<base64>/.
const (
	imagePathPrefixLen = len("/image/")
	imagePathSuffixLen = len("/")
)

// LastBodyScript returns the text of the last <script> directly under <body>.
func LastBodyScript(doc *goquery.Document) string {
	return doc.Find("body").ChildrenFiltered("script").Last().Text()
}

// Manifest decodes the image manifest of a register viewer page.
// Entries that fail to decode are logged and dropped.
func Manifest(doc *goquery.Document, logger *zap.Logger) ([]record.ManifestEntry, error) {
	return ManifestFromScript(LastBodyScript(doc), logger)
}

// ManifestFromScript decodes the manifest from the viewer script text.
func ManifestFromScript(script string, logger *zap.Logger) ([]record.ManifestEntry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := manifestCall.FindStringSubmatch(script)
	if m == nil {
		return nil, ErrManifestNotFound
	}
	var labels, files []string
	if err := json.Unmarshal([]byte(m[1]), &labels); err != nil {
		return nil, fmt.Errorf("decode manifest labels: %w", err)
	}
	if err := json.Unmarshal([]byte(m[2]), &files); err != nil {
		return nil, fmt.Errorf("decode manifest files: %w", err)
	}

	out := make([]record.ManifestEntry, 0, len(files))
	for i, file := range files {
		decoded, err := DecodeImagePath(file)
		if err != nil {
			logger.Error("Could not decode image path", zap.String("file", file), zap.Error(err))
			continue
		}
		entry := record.ManifestEntry{URL: decoded}
		if i < len(labels) {
			entry.Label = labels[i]
		}
		out = append(out, entry)
	}
	return out, nil
}

// DecodeImagePath strips the /image/ and trailing / markers from a manifest
// file entry and base64-decodes the rest, repairing missing padding.
func DecodeImagePath(file string) (string, error) {
	if len(file) < imagePathPrefixLen+imagePathSuffixLen {
		return "", fmt.Errorf("image path %q too short", file)
	}
	raw := PadBase64(file[imagePathPrefixLen : len(file)-imagePathSuffixLen])
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("decoded image path is not utf-8")
	}
	return string(b), nil
}

// PadBase64 right-pads s with '=' up to the next multiple of four.
// The site sometimes drops the padding.
func PadBase64(s string) string {
	if rem := len(s) % 4; rem != 0 {
		return s + strings.Repeat("=", 4-rem)
	}
	return s
}
