// Package compiler turns plain-text flashcard markup into structured card
// blocks. The markup is line oriented: a block opens with `Q:`, switches to
// the answer at `A:`, and closes at a bare `===` delimiter. Blocks expand
// into one or more cards depending on cloze markers and the `@reverse` tag.
package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// NoteType classifies how a source block expanded into cards.
type NoteType string

const (
	NoteTypeBasic   NoteType = "basic"
	NoteTypeReverse NoteType = "reverse"
	NoteTypeCloze   NoteType = "cloze"
)

// CardOrigin groups sibling cards generated from one source block so the
// runtime can bury or suspend them together.
type CardOrigin struct {
	NoteID     string   `json:"noteId"`
	NoteType   NoteType `json:"noteType"`
	VariantKey string   `json:"variantKey"`
}

// SourceRange records where a card block came from, 1-based inclusive.
type SourceRange struct {
	File      string `json:"file"`
	LineStart int    `json:"lineStart"`
	LineEnd   int    `json:"lineEnd"`
}

// CardBlock is one output card with its provenance.
type CardBlock struct {
	Front  string
	Back   string
	Source SourceRange
	Origin CardOrigin
}

// ParseResult carries the cards and diagnostics of one input file.
type ParseResult struct {
	Cards       []CardBlock
	Diagnostics []Diagnostic
}

// IDProvider issues identifiers for generated note origins.
type IDProvider interface {
	NewID() string
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider backed by random UUIDs.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() string {
	return uuid.NewString()
}

// Parser parses flashcard markup. The zero value is not usable; construct
// with NewParser.
type Parser struct {
	ids IDProvider
}

// ParserConfig describes optional Parser dependencies.
type ParserConfig struct {
	IDProvider IDProvider
}

// NewParser returns a Parser, defaulting to UUID note identifiers.
func NewParser(cfg ParserConfig) *Parser {
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	return &Parser{ids: ids}
}

const (
	questionMarker  = "Q:"
	answerMarker    = "A:"
	delimiterMarker = "==="
	reverseMarker   = "@reverse"
)

var escapedMarkerPattern = regexp.MustCompile(`(?m)^\\(Q:|A:|===)`)

func isQuestionLine(line string) bool {
	return strings.HasPrefix(line, questionMarker)
}

func isAnswerLine(line string) bool {
	return strings.HasPrefix(line, answerMarker)
}

func isDelimiterLine(line string) bool {
	return line == delimiterMarker
}

func isReverseLine(line string) bool {
	return strings.TrimSpace(line) == reverseMarker
}

// stripMarker removes the leading marker and at most one following space.
func stripMarker(line string, markerLength int) string {
	rest := line[markerLength:]
	if strings.HasPrefix(rest, " ") {
		return rest[1:]
	}
	return rest
}

// unescapeMarkers turns escaped markers back into literal text. Escapes are
// honoured during scanning (an escaped delimiter does not close a block) and
// unescaped only in the final card content.
func unescapeMarkers(text string) string {
	return escapedMarkerPattern.ReplaceAllString(text, "$1")
}

// ParseBlocks scans content line by line and returns the expanded cards plus
// accumulated diagnostics. A missing closing delimiter is fatal for the rest
// of the file: scanning stops at that block.
func (p *Parser) ParseBlocks(content, sourceFile string) ParseResult {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	var cards []CardBlock
	var diagnostics []Diagnostic

	i := 0
	for i < len(lines) {
		hasReverse := false
		if isReverseLine(lines[i]) {
			if i+1 < len(lines) && isQuestionLine(lines[i+1]) {
				hasReverse = true
				i++
			} else {
				// Inert marker: not followed by Q:, skip the line.
				i++
				continue
			}
		}

		if !isQuestionLine(lines[i]) {
			i++
			continue
		}

		// 1-based start line; a tagged block's range includes @reverse.
		lineStart := i + 1
		if hasReverse {
			lineStart = i
		}

		frontLines := []string{stripMarker(lines[i], len(questionMarker))}
		i++

		hasAnswer := false
		for i < len(lines) {
			if isAnswerLine(lines[i]) {
				hasAnswer = true
				break
			}
			if isDelimiterLine(lines[i]) {
				diagnostics = append(diagnostics, Diagnostic{
					Code:     CodeMissingAnswer,
					Message:  "Card block is missing an A: answer marker.",
					File:     sourceFile,
					Line:     lineStart,
					Severity: SeverityError,
				})
				i++
				break
			}
			frontLines = append(frontLines, lines[i])
			i++
		}

		if !hasAnswer {
			if i >= len(lines) {
				diagnostics = append(diagnostics, Diagnostic{
					Code:     CodeMissingAnswer,
					Message:  "Card block is missing an A: answer marker.",
					File:     sourceFile,
					Line:     lineStart,
					Severity: SeverityError,
				})
			}
			continue
		}

		backLines := []string{stripMarker(lines[i], len(answerMarker))}
		i++

		lineEnd := -1
		for i < len(lines) {
			if isDelimiterLine(lines[i]) {
				lineEnd = i + 1
				i++
				break
			}
			backLines = append(backLines, lines[i])
			i++
		}

		if lineEnd == -1 {
			diagnostics = append(diagnostics, Diagnostic{
				Code:     CodeMissingDelimiter,
				Message:  "Card block is missing a terminating === delimiter.",
				File:     sourceFile,
				Line:     lineStart,
				Severity: SeverityError,
			})
			break
		}

		front := strings.TrimSpace(unescapeMarkers(strings.Join(frontLines, "\n")))
		back := strings.TrimSpace(unescapeMarkers(strings.Join(backLines, "\n")))

		if front == "" || back == "" {
			diagnostics = append(diagnostics, Diagnostic{
				Code:     CodeMalformedCardBlock,
				Message:  "Card block must have non-empty Q and A content.",
				File:     sourceFile,
				Line:     lineStart,
				Severity: SeverityError,
			})
			continue
		}

		source := SourceRange{File: sourceFile, LineStart: lineStart, LineEnd: lineEnd}
		expanded, expandDiagnostics := p.expandBlock(front, back, hasReverse, source)
		cards = append(cards, expanded...)
		diagnostics = append(diagnostics, expandDiagnostics...)
	}

	if len(cards) == 0 {
		diagnostics = append(diagnostics, Diagnostic{
			Code:     CodeNoCardsFound,
			Message:  "No flashcards found in file.",
			File:     sourceFile,
			Line:     1,
			Severity: SeverityWarning,
		})
	}

	return ParseResult{Cards: cards, Diagnostics: diagnostics}
}

// expandBlock turns one closed block into its output cards: one per cloze
// index, a forward/reverse pair, or a single basic card.
func (p *Parser) expandBlock(front, back string, hasReverse bool, source SourceRange) ([]CardBlock, []Diagnostic) {
	noteID := p.ids.NewID()

	indices := ClozeIndices(front)
	if len(indices) > 0 {
		var cards []CardBlock
		var diagnostics []Diagnostic
		for _, index := range indices {
			expandedFront, revealedFront := ExpandCloze(front, index)
			if strings.TrimSpace(expandedFront) == "" {
				diagnostics = append(diagnostics, Diagnostic{
					Code:     CodeEmptyCloze,
					Message:  fmt.Sprintf("Cloze c%d produces empty front content.", index),
					File:     source.File,
					Line:     source.LineStart,
					Severity: SeverityError,
				})
				continue
			}

			// The back shows the question with the active answer bolded,
			// followed by the answer text with the same reveal applied.
			cardBack := revealedFront
			if strings.TrimSpace(back) != "" {
				_, revealedBack := ExpandCloze(back, index)
				cardBack = revealedFront + "\n\n" + revealedBack
			}

			cards = append(cards, CardBlock{
				Front:  expandedFront,
				Back:   cardBack,
				Source: source,
				Origin: CardOrigin{
					NoteID:     noteID,
					NoteType:   NoteTypeCloze,
					VariantKey: fmt.Sprintf("c%d", index),
				},
			})
		}
		return cards, diagnostics
	}

	if hasReverse {
		return []CardBlock{
			{
				Front:  front,
				Back:   back,
				Source: source,
				Origin: CardOrigin{NoteID: noteID, NoteType: NoteTypeReverse, VariantKey: "forward"},
			},
			{
				Front:  back,
				Back:   front,
				Source: source,
				Origin: CardOrigin{NoteID: noteID, NoteType: NoteTypeReverse, VariantKey: "reverse"},
			},
		}, nil
	}

	return []CardBlock{
		{
			Front:  front,
			Back:   back,
			Source: source,
			Origin: CardOrigin{NoteID: noteID, NoteType: NoteTypeBasic, VariantKey: "basic"},
		},
	}, nil
}
