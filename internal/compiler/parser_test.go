package compiler

import (
	"fmt"
	"strings"
	"testing"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() string {
	p.next++
	return fmt.Sprintf("note-%d", p.next)
}

func newTestParser() *Parser {
	return NewParser(ParserConfig{IDProvider: &sequenceIDProvider{}})
}

func errorCount(diagnostics []Diagnostic) int {
	count := 0
	for _, diagnostic := range diagnostics {
		if diagnostic.Severity == SeverityError {
			count++
		}
	}
	return count
}

func TestParseBlocksMultilineCard(t *testing.T) {
	result := newTestParser().ParseBlocks("Q: What is TL2?\nLine 2\nA: An STM\nLine B\n===", "note.md")

	if len(result.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(result.Cards))
	}
	if result.Cards[0].Front != "What is TL2?\nLine 2" {
		t.Fatalf("unexpected front: %q", result.Cards[0].Front)
	}
	if result.Cards[0].Back != "An STM\nLine B" {
		t.Fatalf("unexpected back: %q", result.Cards[0].Back)
	}
	if errorCount(result.Diagnostics) != 0 {
		t.Fatalf("unexpected error diagnostics: %v", result.Diagnostics)
	}
}

func TestParseBlocksSingleBasicCard(t *testing.T) {
	result := newTestParser().ParseBlocks("Q: A\nA: B\n===", "note.md")

	if len(result.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(result.Cards))
	}
	card := result.Cards[0]
	if card.Front != "A" || card.Back != "B" {
		t.Fatalf("unexpected card content: %q / %q", card.Front, card.Back)
	}
	if card.Origin.NoteType != NoteTypeBasic || card.Origin.VariantKey != "basic" {
		t.Fatalf("unexpected origin: %#v", card.Origin)
	}
	if card.Origin.NoteID == "" {
		t.Fatalf("expected a generated note id")
	}
	if errorCount(result.Diagnostics) != 0 {
		t.Fatalf("unexpected error diagnostics: %v", result.Diagnostics)
	}
}

func TestParseBlocksEscapedMarkers(t *testing.T) {
	result := newTestParser().ParseBlocks("Q: Keep literal \\A: marker\nA: Answer with \\=== literal\n===", "note.md")

	if len(result.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(result.Cards))
	}
	if !strings.Contains(result.Cards[0].Front, "A:") {
		t.Fatalf("front should contain unescaped A:, got %q", result.Cards[0].Front)
	}
	if !strings.Contains(result.Cards[0].Back, "===") {
		t.Fatalf("back should contain unescaped ===, got %q", result.Cards[0].Back)
	}
}

func TestParseBlocksMissingDelimiterIsFatal(t *testing.T) {
	result := newTestParser().ParseBlocks("Q: A\nA: B", "note.md")

	if len(result.Cards) != 0 {
		t.Fatalf("expected no cards, got %d", len(result.Cards))
	}
	found := false
	for _, diagnostic := range result.Diagnostics {
		if diagnostic.Code == CodeMissingDelimiter {
			found = true
			if diagnostic.Severity != SeverityError {
				t.Fatalf("missing delimiter should be an error")
			}
		}
	}
	if !found {
		t.Fatalf("expected MISSING_DELIMITER diagnostic, got %v", result.Diagnostics)
	}
}

func TestParseBlocksMissingAnswer(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "delimiter-before-answer", input: "Q: Question\nmore front\n===\n"},
		{name: "end-of-input", input: "Q: Question\nmore front"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newTestParser().ParseBlocks(tt.input, "note.md")
			if len(result.Cards) != 0 {
				t.Fatalf("expected no cards, got %d", len(result.Cards))
			}
			found := false
			for _, diagnostic := range result.Diagnostics {
				if diagnostic.Code == CodeMissingAnswer {
					found = true
					if diagnostic.Line != 1 {
						t.Fatalf("diagnostic should point at block start, got line %d", diagnostic.Line)
					}
				}
			}
			if !found {
				t.Fatalf("expected MISSING_ANSWER diagnostic, got %v", result.Diagnostics)
			}
		})
	}
}

func TestParseBlocksMalformedEmptySides(t *testing.T) {
	result := newTestParser().ParseBlocks("Q:\nA: B\n===", "note.md")

	if len(result.Cards) != 0 {
		t.Fatalf("expected no cards, got %d", len(result.Cards))
	}
	found := false
	for _, diagnostic := range result.Diagnostics {
		if diagnostic.Code == CodeMalformedCardBlock {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MALFORMED_CARD_BLOCK diagnostic, got %v", result.Diagnostics)
	}
}

func TestParseBlocksNoCardsWarning(t *testing.T) {
	result := newTestParser().ParseBlocks("just prose, no markers", "note.md")

	if len(result.Cards) != 0 {
		t.Fatalf("expected no cards, got %d", len(result.Cards))
	}
	if len(result.Diagnostics) != 1 {
		t.Fatalf("expected a single diagnostic, got %v", result.Diagnostics)
	}
	diagnostic := result.Diagnostics[0]
	if diagnostic.Code != CodeNoCardsFound || diagnostic.Severity != SeverityWarning || diagnostic.Line != 1 {
		t.Fatalf("unexpected diagnostic: %#v", diagnostic)
	}
}

func TestParseBlocksReverseExpansion(t *testing.T) {
	result := newTestParser().ParseBlocks("@reverse\nQ: Capital of France\nA: Paris\n\n===", "note.md")

	if errorCount(result.Diagnostics) != 0 {
		t.Fatalf("unexpected error diagnostics: %v", result.Diagnostics)
	}
	if len(result.Cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(result.Cards))
	}

	forward, reverse := result.Cards[0], result.Cards[1]
	if forward.Front != "Capital of France" || forward.Back != "Paris" {
		t.Fatalf("unexpected forward card: %q / %q", forward.Front, forward.Back)
	}
	if forward.Origin.NoteType != NoteTypeReverse || forward.Origin.VariantKey != "forward" {
		t.Fatalf("unexpected forward origin: %#v", forward.Origin)
	}
	if reverse.Front != "Paris" || reverse.Back != "Capital of France" {
		t.Fatalf("unexpected reverse card: %q / %q", reverse.Front, reverse.Back)
	}
	if reverse.Origin.VariantKey != "reverse" {
		t.Fatalf("unexpected reverse origin: %#v", reverse.Origin)
	}
	if forward.Origin.NoteID != reverse.Origin.NoteID {
		t.Fatalf("reverse pair should share a note id")
	}
}

func TestParseBlocksInertReverseMarker(t *testing.T) {
	result := newTestParser().ParseBlocks("@reverse\nSome random text\nQ: Question\nA: Answer\n\n===", "note.md")

	if len(result.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(result.Cards))
	}
	if result.Cards[0].Origin.NoteType != NoteTypeBasic {
		t.Fatalf("expected basic card, got %#v", result.Cards[0].Origin)
	}
}

func TestParseBlocksClozeExpansion(t *testing.T) {
	result := newTestParser().ParseBlocks("Q: {{c1::Canberra}} was founded in {{c2::1913}}\nA: Review the facts.\n\n===", "note.md")

	if errorCount(result.Diagnostics) != 0 {
		t.Fatalf("unexpected error diagnostics: %v", result.Diagnostics)
	}
	if len(result.Cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(result.Cards))
	}

	first, second := result.Cards[0], result.Cards[1]
	if first.Front != "[...] was founded in 1913" {
		t.Fatalf("unexpected c1 front: %q", first.Front)
	}
	if first.Origin.NoteType != NoteTypeCloze || first.Origin.VariantKey != "c1" {
		t.Fatalf("unexpected c1 origin: %#v", first.Origin)
	}
	if second.Front != "Canberra was founded in [...]" {
		t.Fatalf("unexpected c2 front: %q", second.Front)
	}
	if second.Origin.VariantKey != "c2" {
		t.Fatalf("unexpected c2 origin: %#v", second.Origin)
	}
	if first.Origin.NoteID != second.Origin.NoteID {
		t.Fatalf("cloze variants should share a note id")
	}
}

func TestParseBlocksClozeHint(t *testing.T) {
	result := newTestParser().ParseBlocks("Q: The {{c1::mitochondria::organelle}} is the powerhouse.\nA: Answer.\n\n===", "note.md")

	if len(result.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(result.Cards))
	}
	if result.Cards[0].Front != "The [hint: organelle] is the powerhouse." {
		t.Fatalf("unexpected front: %q", result.Cards[0].Front)
	}
}

func TestParseBlocksClozeBack(t *testing.T) {
	result := newTestParser().ParseBlocks("Q: {{c1::Canberra}} is the capital.\nA: Review.\n\n===", "note.md")

	if len(result.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(result.Cards))
	}
	if result.Cards[0].Back != "**Canberra** is the capital.\n\nReview." {
		t.Fatalf("unexpected back: %q", result.Cards[0].Back)
	}
}

func TestParseBlocksRepeatedClozeIndex(t *testing.T) {
	result := newTestParser().ParseBlocks("Q: {{c1::A}} and {{c1::B}} are both important.\nA: Answer.\n\n===", "note.md")

	if len(result.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(result.Cards))
	}
	if result.Cards[0].Front != "[...] and [...] are both important." {
		t.Fatalf("unexpected front: %q", result.Cards[0].Front)
	}
	if result.Cards[0].Origin.VariantKey != "c1" {
		t.Fatalf("unexpected origin: %#v", result.Cards[0].Origin)
	}
}

func TestParseBlocksMixedCardTypes(t *testing.T) {
	input := strings.Join([]string{
		"Q: Basic card",
		"A: Basic answer",
		"",
		"===",
		"",
		"@reverse",
		"Q: Forward",
		"A: Backward",
		"",
		"===",
		"",
		"Q: {{c1::Cloze}} card",
		"A: Cloze answer",
		"",
		"===",
	}, "\n")

	result := newTestParser().ParseBlocks(input, "note.md")
	if errorCount(result.Diagnostics) != 0 {
		t.Fatalf("unexpected error diagnostics: %v", result.Diagnostics)
	}
	if len(result.Cards) != 4 {
		t.Fatalf("expected 4 cards (basic + reverse pair + cloze), got %d", len(result.Cards))
	}

	if result.Cards[0].Origin.NoteType != NoteTypeBasic {
		t.Fatalf("card 0 should be basic: %#v", result.Cards[0].Origin)
	}
	if result.Cards[1].Origin.VariantKey != "forward" || result.Cards[2].Origin.VariantKey != "reverse" {
		t.Fatalf("cards 1-2 should be the reverse pair")
	}
	if result.Cards[3].Origin.NoteType != NoteTypeCloze {
		t.Fatalf("card 3 should be cloze: %#v", result.Cards[3].Origin)
	}

	if result.Cards[0].Origin.NoteID == result.Cards[1].Origin.NoteID {
		t.Fatalf("separate blocks must not share note ids")
	}
	if result.Cards[1].Origin.NoteID == result.Cards[3].Origin.NoteID {
		t.Fatalf("separate blocks must not share note ids")
	}
}

func TestParseBlocksRecordsSourceRange(t *testing.T) {
	result := newTestParser().ParseBlocks("intro line\nQ: A\nA: B\n===", "deck/note.md")

	if len(result.Cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(result.Cards))
	}
	source := result.Cards[0].Source
	if source.File != "deck/note.md" || source.LineStart != 2 || source.LineEnd != 4 {
		t.Fatalf("unexpected source range: %#v", source)
	}
}

func TestDiagnosticStringRendersSeverityTags(t *testing.T) {
	cases := []struct {
		name       string
		diagnostic Diagnostic
		want       string
	}{
		{
			name: "error",
			diagnostic: Diagnostic{
				Code:     CodeAssetNotFound,
				Message:  "no file matches",
				File:     "deck/note.md",
				Line:     7,
				Severity: SeverityError,
			},
			want: "[ERROR] ASSET_NOT_FOUND deck/note.md:7 no file matches",
		},
		{
			name: "warning",
			diagnostic: Diagnostic{
				Code:     CodeNoCardsFound,
				Message:  "file produced no cards",
				File:     "deck/empty.md",
				Line:     1,
				Severity: SeverityWarning,
			},
			want: "[WARN] NO_CARDS_FOUND deck/empty.md:1 file produced no cards",
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.diagnostic.String(); got != testCase.want {
				t.Fatalf("String() = %q, want %q", got, testCase.want)
			}
		})
	}
}
