// Package chunker splits documents into overlapping segments that fit an
// embedding model's context window.
//
// Segments are exact substrings of the input. Dropping each segment's
// Overlap prefix and concatenating the rest gives back the original text.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/flarexio/ragblade/vector"
)

// CharsPerToken is the rune count estimated to make up one model token.
const CharsPerToken = 4

const (
	DefaultMaxTokens = 512
	DefaultOverlap   = 64
)

// Chunk is a segment of a document. Start and End are byte offsets into the
// source text; Overlap is the number of leading bytes shared with the
// previous chunk.
type Chunk struct {
	Text    string
	Start   int
	End     int
	Overlap int
	Tokens  int
}

// Split returns the text of every chunk produced by Chunks.
func Split(text string, maxTokens, overlap int) ([]string, error) {
	chunks, err := Chunks(text, maxTokens, overlap)
	if err != nil {
		return nil, err
	}

	segments := make([]string, len(chunks))
	for i, c := range chunks {
		segments[i] = c.Text
	}

	return segments, nil
}

// Chunks splits text into contiguous segments of at most maxTokens estimated
// tokens. Consecutive segments share up to overlap tokens of whole words.
// Paragraph ends are preferred as cut points, then sentence ends, before
// cutting at the token budget.
func Chunks(text string, maxTokens, overlap int) ([]Chunk, error) {
	if err := Validate(maxTokens, overlap); err != nil {
		return nil, err
	}

	if text == "" {
		return []Chunk{}, nil
	}

	ps := splitPieces(text, maxTokens)

	// cost[i] is the token count of ps[:i]
	cost := make([]int, len(ps)+1)
	for i, p := range ps {
		cost[i+1] = cost[i] + p.tokens
	}

	var (
		chunks  []Chunk
		prevEnd int
	)

	s := 0
	for s < len(ps) {
		e := s
		for e < len(ps) && cost[e+1]-cost[s] <= maxTokens {
			e++
		}

		if e < len(ps) {
			e = preferBoundary(ps, cost, s, e, maxTokens)
		}

		start, end := ps[s].start, ps[e-1].end

		c := Chunk{
			Text:   text[start:end],
			Start:  start,
			End:    end,
			Tokens: cost[e] - cost[s],
		}

		if len(chunks) > 0 && prevEnd > start {
			c.Overlap = prevEnd - start
		}

		chunks = append(chunks, c)
		prevEnd = end

		if e == len(ps) {
			break
		}

		next := e
		for j := e - 1; j > s && cost[e]-cost[j] <= overlap; j-- {
			next = j
		}

		s = next
	}

	return chunks, nil
}

// EstimateTokens returns the estimated token count of text.
func EstimateTokens(text string) int {
	var total int
	for _, p := range splitPieces(text, 0) {
		total += p.tokens
	}

	return total
}

// Validate checks a chunking configuration.
func Validate(maxTokens, overlap int) error {
	if maxTokens <= 0 {
		return &vector.ConfigError{Field: "chunking.maxTokens", Reason: "must be positive"}
	}

	if overlap < 0 {
		return &vector.ConfigError{Field: "chunking.overlap", Reason: "must not be negative"}
	}

	if overlap >= maxTokens {
		return &vector.ConfigError{Field: "chunking.overlap", Reason: "must be less than maxTokens"}
	}

	return nil
}

// preferBoundary moves the cut point e back to a paragraph or sentence end,
// as long as the chunk keeps at least half of its token budget.
func preferBoundary(ps []piece, cost []int, s, e, maxTokens int) int {
	for _, isBoundary := range []func(piece) bool{
		func(p piece) bool { return p.paragraph },
		func(p piece) bool { return p.sentence },
	} {
		for b := e; b > s; b-- {
			if 2*(cost[b]-cost[s]) < maxTokens {
				break
			}

			if isBoundary(ps[b-1]) {
				return b
			}
		}
	}

	return e
}

// piece is a word with its trailing whitespace. The first piece also owns
// any leading whitespace of the text.
type piece struct {
	start     int
	end       int
	tokens    int
	paragraph bool
	sentence  bool
}

// splitPieces cuts text into pieces. Words above maxTokens are split on rune
// boundaries; a maxTokens of 0 disables that.
func splitPieces(text string, maxTokens int) []piece {
	var ps []piece

	i := 0
	for i < len(text) {
		start := i

		// leading whitespace only occurs before the first word
		i = skip(text, i, true)
		wordStart := i
		i = skip(text, i, false)
		wordEnd := i
		i = skip(text, i, true)

		word := text[wordStart:wordEnd]
		space := text[wordEnd:i]

		runes := utf8.RuneCountInString(word)
		tokens := max(1, (runes+CharsPerToken-1)/CharsPerToken)

		if maxTokens > 0 && tokens > maxTokens {
			ps = append(ps, hardSplit(text, start, wordStart, wordEnd, i, maxTokens)...)
			continue
		}

		ps = append(ps, piece{
			start:     start,
			end:       i,
			tokens:    tokens,
			paragraph: strings.Count(space, "\n") >= 2,
			sentence:  space != "" && endsSentence(word),
		})
	}

	return ps
}

func hardSplit(text string, start, wordStart, wordEnd, end, maxTokens int) []piece {
	var (
		ps    []piece
		limit = maxTokens * CharsPerToken
		from  = start
		n     = 0
	)

	for pos := wordStart; pos < wordEnd; {
		_, size := utf8.DecodeRuneInString(text[pos:])
		pos += size
		n++

		if n == limit && pos < wordEnd {
			ps = append(ps, piece{start: from, end: pos, tokens: maxTokens})
			from, n = pos, 0
		}
	}

	ps = append(ps, piece{
		start:  from,
		end:    end,
		tokens: max(1, (n+CharsPerToken-1)/CharsPerToken),
	})

	return ps
}

// skip advances past whitespace (space=true) or non-whitespace runes.
func skip(text string, i int, space bool) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) != space {
			break
		}

		i += size
	}

	return i
}

func endsSentence(word string) bool {
	word = strings.TrimRight(word, `"')]`)
	if word == "" {
		return false
	}

	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	}

	return false
}
