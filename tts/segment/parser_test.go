package segment

import (
	"testing"
	"time"

	"github.com/narrato/narrato/tts"
)

func TestSegmentSplitsSentences(t *testing.T) {
	p := NewParser()
	segments := p.Segment("The keeper climbed the stairs. He trimmed the wick! Did the light still turn?")
	if len(segments) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(segments))
	}
	wants := []string{
		"The keeper climbed the stairs.",
		"He trimmed the wick!",
		"Did the light still turn?",
	}
	for i, want := range wants {
		if segments[i].Text != want {
			t.Errorf("Segment %d: expected %q, got %q", i, want, segments[i].Text)
		}
		if segments[i].Index != i {
			t.Errorf("Segment %d: expected index %d, got %d", i, i, segments[i].Index)
		}
		if segments[i].Type != tts.SegmentNarration {
			t.Errorf("Segment %d: expected narration type", i)
		}
	}
}

func TestSegmentDetectsHeadings(t *testing.T) {
	p := NewParser()
	segments := p.Segment("Chapter One\n\nThe storm arrived at midnight.")
	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(segments))
	}
	if segments[0].Type != tts.SegmentHeading {
		t.Errorf("Expected %q to be a heading", segments[0].Text)
	}
	if segments[1].Type != tts.SegmentNarration {
		t.Errorf("Expected %q to be narration", segments[1].Text)
	}
}

func TestSegmentKeepsAbbreviationsTogether(t *testing.T) {
	p := NewParser()
	segments := p.Segment("Dr. Watson opened the door. The hall was dark.")
	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d: %v", len(segments), texts(segments))
	}
	if segments[0].Text != "Dr. Watson opened the door." {
		t.Errorf("Expected abbreviation folded into sentence, got %q", segments[0].Text)
	}
}

func TestSegmentJoinsHardWrappedLines(t *testing.T) {
	p := NewParser()
	segments := p.Segment("The keeper climbed\nthe winding stairs.")
	if len(segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(segments))
	}
	if segments[0].Text != "The keeper climbed the winding stairs." {
		t.Errorf("Expected wrapped lines joined, got %q", segments[0].Text)
	}
}

func TestSegmentSkipsShortFragments(t *testing.T) {
	p := NewParser(WithMinLength(5))
	segments := p.Segment("Hm. The storm arrived at midnight.")
	if len(segments) != 1 {
		t.Fatalf("Expected short fragment skipped, got %d segments: %v", len(segments), texts(segments))
	}
}

func TestSegmentEmptyInput(t *testing.T) {
	p := NewParser()
	if segments := p.Segment(""); len(segments) != 0 {
		t.Errorf("Expected no segments for empty input, got %d", len(segments))
	}
	if segments := p.Segment("\n\n  \n"); len(segments) != 0 {
		t.Errorf("Expected no segments for whitespace input, got %d", len(segments))
	}
}

func TestSegmentKeepsClosingQuotes(t *testing.T) {
	p := NewParser()
	segments := p.Segment(`"Hold the light steady." The keeper nodded.`)
	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d: %v", len(segments), texts(segments))
	}
	if segments[0].Text != `"Hold the light steady."` {
		t.Errorf("Expected closing quote kept with sentence, got %q", segments[0].Text)
	}
}

func TestEstimateDuration(t *testing.T) {
	p := NewParser(WithWordsPerMinute(150))
	// 150 wpm means 2.5 words per second; ten words take four seconds.
	got := p.EstimateDuration("one two three four five six seven eight nine ten")
	if got != 4*time.Second {
		t.Errorf("Expected 4s for ten words, got %s", got)
	}
	if p.EstimateDuration("") == 0 {
		t.Error("Expected nonzero duration for empty text")
	}
}

func texts(segments []tts.Segment) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Text
	}
	return out
}
