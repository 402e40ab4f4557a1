package engine

import (
	"context"
	"strings"

	"github.com/mentorverse/liplink/pkg/provider/llm"
)

// sentenceMin is the shortest fragment worth sending to TTS on its own.
// Fragments below this length wait for the next sentence boundary, which
// avoids choppy clips for abbreviations like "Dr." or list numbering.
const sentenceMin = 10

// sentenceTerminators mark a flush point in the token stream. Both ASCII and
// full-width CJK punctuation are recognised.
var sentenceTerminators = []rune{'.', '!', '?', ';', '\n', '。', '！', '？', '；'}

func isTerminator(r rune) bool {
	for _, t := range sentenceTerminators {
		if r == t {
			return true
		}
	}
	return false
}

// splitSentences re-chunks an LLM token stream into sentence fragments and
// sends them to out. Returns when the stream ends or ctx is cancelled. Any
// trailing text without a terminator is flushed at the end.
func splitSentences(ctx context.Context, chunks <-chan llm.Chunk, out chan<- string) {
	var buf strings.Builder

	flush := func() bool {
		s := strings.TrimSpace(buf.String())
		buf.Reset()
		if s == "" {
			return true
		}
		select {
		case out <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				flush()
				return
			}
			for _, r := range chunk.Text {
				buf.WriteRune(r)
				if isTerminator(r) && len([]rune(buf.String())) >= sentenceMin {
					if !flush() {
						return
					}
				}
			}
			if chunk.FinishReason != "" {
				flush()
				return
			}
		}
	}
}
