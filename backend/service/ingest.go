package service

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/AnTengye/compliancecheck/backend/model"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoClauses         = errors.New("no clauses extracted")
)

// minClauseChars is the shortest paragraph kept as a clause of its own.
const minClauseChars = 40

// Supported upload extensions.
const (
	ExtPDF  = ".pdf"
	ExtDOCX = ".docx"
	ExtTXT  = ".txt"
	ExtMD   = ".md"
)

// ContentTypeFor maps a supported extension to its MIME type.
func ContentTypeFor(ext string) (string, bool) {
	switch strings.ToLower(ext) {
	case ExtPDF:
		return "application/pdf", true
	case ExtDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document", true
	case ExtTXT:
		return "text/plain; charset=utf-8", true
	case ExtMD:
		return "text/markdown; charset=utf-8", true
	default:
		return "", false
	}
}

// NeedsRemoteExtraction reports whether the file has to go through MinerU.
func NeedsRemoteExtraction(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ExtPDF)
}

// Block is a run of text with a flag for section headings.
type Block struct {
	Text    string
	Heading bool
}

// ExtractBlocks reads text, markdown and DOCX uploads.
func ExtractBlocks(filename string, data []byte) ([]Block, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ExtTXT, ExtMD:
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%s: %w: not valid UTF-8", filename, ErrUnsupportedFormat)
		}
		return TextBlocks(string(data)), nil
	case ExtDOCX:
		paragraphs, err := docxParagraphs(data)
		if err != nil {
			return nil, fmt.Errorf("failed to read docx: %w", err)
		}
		return TextBlocks(strings.Join(paragraphs, "\n\n")), nil
	default:
		return nil, fmt.Errorf("%s: %w", filename, ErrUnsupportedFormat)
	}
}

// ExtractClauses is ExtractBlocks followed by clause splitting.
func ExtractClauses(filename string, data []byte) ([]model.Clause, error) {
	blocks, err := ExtractBlocks(filename, data)
	if err != nil {
		return nil, err
	}
	clauses := BuildClauses(blocks)
	if len(clauses) == 0 {
		return nil, ErrNoClauses
	}
	return clauses, nil
}

var (
	inlineSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	headingLine = regexp.MustCompile(`(?i)^(?:(?:section|article|clause)\s+\d+[.:)]?|\d+(?:\.\d+)*[.)]|\d+(?:\.\d+)+)(?:\s|$)`)
	markdownH   = regexp.MustCompile(`^#{1,6}\s+`)
)

// Normalize applies NFKC and collapses horizontal whitespace on every line.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(l, " "))
	}
	return strings.Join(lines, "\n")
}

// TextBlocks splits plain text on blank lines. A heading line always opens a
// new block.
func TextBlocks(text string) []Block {
	var (
		blocks  []Block
		current []string
		heading bool
	)
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, Block{Text: strings.Join(current, "\n"), Heading: heading})
		}
		current = nil
		heading = false
	}

	for _, line := range strings.Split(Normalize(text), "\n") {
		if line == "" {
			flush()
			continue
		}
		if markdownH.MatchString(line) {
			flush()
			current = append(current, markdownH.ReplaceAllString(line, ""))
			heading = true
			continue
		}
		if headingLine.MatchString(line) {
			flush()
			heading = true
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

// blockSeparator joins blocks, both inside a merged clause and in the
// document text, so every clause stays a substring of the text.
const blockSeparator = "\n\n"

// BuildClauses turns blocks into numbered, classified clauses. Fragments
// shorter than minClauseChars are carried into the next block. A heading
// starts a new clause, so a stray fragment before it joins the previous one.
func BuildClauses(blocks []Block) []model.Clause {
	var (
		texts          []string
		pending        string
		pendingHeading bool
	)
	for _, b := range blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		heading := b.Heading
		if pending != "" {
			if heading && !pendingHeading && len(texts) > 0 {
				texts[len(texts)-1] += blockSeparator + pending
			} else {
				text = pending + blockSeparator + text
				heading = heading || pendingHeading
			}
			pending, pendingHeading = "", false
		}
		if utf8.RuneCountInString(text) < minClauseChars {
			pending, pendingHeading = text, heading
			continue
		}
		texts = append(texts, text)
	}
	if pending != "" {
		if n := len(texts); n > 0 {
			texts[n-1] += blockSeparator + pending
		} else {
			texts = append(texts, pending)
		}
	}

	clauses := make([]model.Clause, 0, len(texts))
	for i, t := range texts {
		clauses = append(clauses, model.Clause{
			ChunkID:             i + 1,
			Content:             t,
			PrimaryType:         ClassifyClause(t),
			RegulatoryRelevance: RegulatoryRelevance(t),
		})
	}
	return clauses
}

var clauseTypes = []struct {
	name     string
	keywords []string
}{
	{"termination", []string{"terminat", "cancel", "expiry", "expiration"}},
	{"confidentiality", []string{"confidential", "non-disclosure", "nondisclosure", "trade secret"}},
	{"data_protection", []string{"personal data", "data protection", "privacy", "data subject", "processor", "gdpr", "hipaa", "ccpa"}},
	{"payment", []string{"payment", "invoice", "fee", "price", "remuneration"}},
	{"liability", []string{"liabilit", "liable", "damages", "limitation of"}},
	{"indemnification", []string{"indemn", "hold harmless", "defend"}},
	{"governing_law", []string{"governing law", "jurisdiction", "arbitration", "venue", "courts of"}},
	{"intellectual_property", []string{"intellectual property", "copyright", "patent", "trademark", "licen"}},
	{"force_majeure", []string{"force majeure", "act of god", "beyond its reasonable control"}},
}

// ClassifyClause picks the clause type with the most keyword hits. Ties go
// to the type listed first; no hits means "general".
func ClassifyClause(text string) string {
	lower := strings.ToLower(text)
	best, bestHits := "general", 0
	for _, ct := range clauseTypes {
		hits := 0
		for _, kw := range ct.keywords {
			hits += strings.Count(lower, kw)
		}
		if hits > bestHits {
			best, bestHits = ct.name, hits
		}
	}
	return best
}

var (
	namedFramework = regexp.MustCompile(`(?i)\b(?:GDPR|HIPAA|SOX|Sarbanes[- ]Oxley|PCI[- ]?DSS|CCPA|FDA|EMA|SOC ?2|ISO ?27001|ITAR|export control(?:s)?)\b`)
	genericLegal   = regexp.MustCompile(`(?i)\b(?:regulat\w*|complian\w*|statut\w*|applicable laws?|legislation|authorit(?:y|ies)|licens\w*)\b`)
)

// RegulatoryRelevance grades how strongly a clause touches regulation.
func RegulatoryRelevance(text string) string {
	switch {
	case namedFramework.MatchString(text):
		return "high"
	case genericLegal.MatchString(text):
		return "moderate"
	default:
		return "minimal"
	}
}

// docxParagraphs returns the text of each w:p element in word/document.xml.
func docxParagraphs(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, errors.New("word/document.xml not found")
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var (
		paragraphs []string
		sb         strings.Builder
		inText     bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(sb.String()); s != "" {
					paragraphs = append(paragraphs, s)
				}
				sb.Reset()
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return paragraphs, nil
}
