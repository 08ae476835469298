// Package segment splits chapter text into ordered synthesis units.
package segment

import (
	"regexp"
	"strings"
	"time"

	"github.com/narrato/narrato/tts"
)

// Parser splits plain chapter text into segments at sentence
// boundaries. It implements tts.Segmenter.
type Parser struct {
	sentenceEndRegex  *regexp.Regexp
	abbreviationRegex *regexp.Regexp

	minLength      int
	wordsPerMinute float64
}

// Option configures a Parser.
type Option func(*Parser)

// WithMinLength sets the minimum segment length in characters.
func WithMinLength(n int) Option {
	return func(p *Parser) { p.minLength = n }
}

// WithWordsPerMinute sets the speaking rate used for duration
// estimation.
func WithWordsPerMinute(wpm float64) Option {
	return func(p *Parser) { p.wordsPerMinute = wpm }
}

// NewParser creates a parser with default settings.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		// Sentence enders, including combinations like "?!", optionally
		// followed by closing quotes or brackets.
		sentenceEndRegex: regexp.MustCompile(`([.!?]+)(["')\]]*)(\s+|$)`),

		// Abbreviations whose trailing period does not end a sentence.
		abbreviationRegex: regexp.MustCompile(
			`(?i)\b(mr|mrs|ms|dr|prof|sr|jr|st|vs|etc|i\.?e|e\.?g|` +
				`jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec|` +
				`no|vol|pp|approx)\.$`,
		),

		minLength:      3,
		wordsPerMinute: 150,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Segment splits text into an ordered segment list. Blank-line-separated
// blocks are processed independently; a short block without a sentence
// terminator is treated as a heading.
func (p *Parser) Segment(text string) []tts.Segment {
	var segments []tts.Segment

	for _, block := range splitBlocks(text) {
		kind := tts.SegmentNarration
		sentences := p.splitSentences(block)
		if len(sentences) == 1 && isHeading(block) {
			kind = tts.SegmentHeading
		}
		for _, sentence := range sentences {
			sentence = strings.TrimSpace(sentence)
			if len(sentence) < p.minLength {
				continue
			}
			segments = append(segments, tts.Segment{
				Index:             len(segments),
				Text:              sentence,
				EstimatedDuration: p.EstimateDuration(sentence),
				Type:              kind,
			})
		}
	}
	return segments
}

// EstimateDuration estimates the speaking duration for text using a
// words-per-minute model.
func (p *Parser) EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	seconds := float64(words) * 60.0 / p.wordsPerMinute
	return time.Duration(seconds * float64(time.Second))
}

// splitSentences splits a block at sentence boundaries, keeping the
// terminator with the sentence and skipping abbreviation periods.
func (p *Parser) splitSentences(block string) []string {
	var sentences []string
	remaining := block

	for remaining != "" {
		loc := p.sentenceEndRegex.FindStringIndex(remaining)
		if loc == nil {
			sentences = append(sentences, remaining)
			break
		}
		candidate := remaining[:loc[1]]
		trimmed := strings.TrimSpace(candidate)

		// Don't break after "Dr." and friends; fold into the next match.
		if p.abbreviationRegex.MatchString(trimmed) && loc[1] < len(remaining) {
			next := p.sentenceEndRegex.FindStringIndex(remaining[loc[1]:])
			if next != nil {
				candidate = remaining[:loc[1]+next[1]]
			} else {
				candidate = remaining
			}
		}
		sentences = append(sentences, candidate)
		remaining = remaining[len(candidate):]
	}
	return sentences
}

var blankLineRegex = regexp.MustCompile(`\n\s*\n`)

// splitBlocks splits text on blank lines and collapses internal
// newlines, so hard-wrapped paragraphs synthesize as continuous speech.
func splitBlocks(text string) []string {
	var blocks []string
	for _, raw := range blankLineRegex.Split(text, -1) {
		block := strings.Join(strings.Fields(raw), " ")
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// isHeading reports whether a block looks like a section heading: short
// and without a sentence terminator.
func isHeading(block string) bool {
	block = strings.TrimSpace(block)
	if len(block) > 80 {
		return false
	}
	return !strings.ContainsAny(block[len(block)-1:], ".!?")
}
