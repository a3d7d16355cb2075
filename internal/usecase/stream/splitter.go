package stream

import (
	"strings"
	"unicode/utf8"

	"chatstream/internal/domain"
)

// Thinking section delimiters.
const (
	OpenTag  = "<think>"
	CloseTag = "</think>"
)

// DefaultChunkThreshold is the buffered length at which tag-free text is released.
const DefaultChunkThreshold = 3

// Splitter turns a raw token stream into content and thinking boundary events.
// It is not safe for concurrent use; one generation goroutine owns it.
type Splitter struct {
	messageID string
	threshold int
	emit      func(domain.StreamEvent)

	buf        string
	inThinking bool

	full     strings.Builder
	answer   strings.Builder
	thinking strings.Builder
}

// NewSplitter returns a Splitter that reports events for messageID to emit.
func NewSplitter(messageID string, threshold int, emit func(domain.StreamEvent)) *Splitter {
	if threshold < 1 {
		threshold = DefaultChunkThreshold
	}
	return &Splitter{messageID: messageID, threshold: threshold, emit: emit}
}

// Feed appends token to the buffer and releases everything that can be
// decided without more input.
func (s *Splitter) Feed(token string) {
	if token == "" {
		return
	}
	s.buf += token
	for s.drain() {
	}
}

// drain applies one release step and reports whether another may apply.
func (s *Splitter) drain() bool {
	tag := OpenTag
	if s.inThinking {
		tag = CloseTag
	}

	if i := strings.Index(s.buf, tag); i >= 0 {
		s.content(s.buf[:i])
		s.inThinking = !s.inThinking
		s.emit(domain.NewThinkingEvent(s.messageID, s.inThinking))
		s.buf = s.buf[i+len(tag):]
		return true
	}

	if utf8.RuneCountInString(s.buf) < s.threshold {
		return false
	}
	// A trailing fragment of the tag stays buffered until the next token
	// decides it.
	keep := partialTagSuffix(s.buf, tag)
	s.content(s.buf[:len(s.buf)-keep])
	s.buf = s.buf[len(s.buf)-keep:]
	return false
}

// Flush releases whatever is buffered, regardless of length.
func (s *Splitter) Flush() {
	s.content(s.buf)
	s.buf = ""
}

func (s *Splitter) content(text string) {
	if text == "" {
		return
	}
	s.full.WriteString(text)
	if s.inThinking {
		s.thinking.WriteString(text)
	} else {
		s.answer.WriteString(text)
	}
	s.emit(domain.NewContentEvent(s.messageID, text))
}

// InThinking reports whether the splitter is inside a thinking section.
func (s *Splitter) InThinking() bool { return s.inThinking }

// FullContent returns the released answer and thinking text in arrival
// order, without delimiters. It always equals the concatenated content chunks.
func (s *Splitter) FullContent() string { return s.full.String() }

// Answer returns the released text outside thinking sections.
func (s *Splitter) Answer() string { return s.answer.String() }

// Thinking returns the released text inside thinking sections.
func (s *Splitter) Thinking() string { return s.thinking.String() }

// Buffered returns the unreleased text.
func (s *Splitter) Buffered() string { return s.buf }

// partialTagSuffix returns the length of the longest suffix of buf that is a
// proper prefix of tag.
func partialTagSuffix(buf, tag string) int {
	n := len(tag) - 1
	if n > len(buf) {
		n = len(buf)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(buf, tag[:n]) {
			return n
		}
	}
	return 0
}
