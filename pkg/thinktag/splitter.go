// Package thinktag separates a leading <think>...</think> reasoning block
// from the answer text of a streamed model response.
package thinktag

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// State is the decision state of a Splitter.
type State int

const (
	// Undecided means fewer bytes than the opening tag have arrived and all
	// of them match it so far.
	Undecided State = iota
	// InThink means the stream opened with <think> and the closing tag has
	// not been seen yet.
	InThink
	// PassThrough means every further chunk goes straight to content.
	PassThrough
)

func (s State) String() string {
	switch s {
	case Undecided:
		return "undecided"
	case InThink:
		return "in_think"
	case PassThrough:
		return "pass_through"
	default:
		return "unknown"
	}
}

// Splitter routes the fragments of one stream to a content sink and a
// thinking sink. A Splitter is not safe for concurrent use; use one per
// stream and call End before reusing it.
type Splitter struct {
	state State
	buf   string
}

// New returns a Splitter in the Undecided state.
func New() *Splitter {
	return &Splitter{}
}

// State returns the current decision state.
func (s *Splitter) State() State {
	return s.state
}

// Process consumes one fragment. thinking may be nil to drop reasoning.
func (s *Splitter) Process(chunk string, content, thinking func(string)) {
	switch s.state {
	case PassThrough:
		if chunk != "" {
			content(chunk)
		}
		return
	case Undecided:
		s.buf += chunk
		if len(s.buf) < len(openTag) {
			if strings.HasPrefix(openTag, s.buf) {
				return
			}
			s.passThrough(content)
			return
		}
		if !strings.HasPrefix(s.buf, openTag) {
			s.passThrough(content)
			return
		}
		s.state = InThink
		s.buf = s.buf[len(openTag):]
	case InThink:
		s.buf += chunk
	}
	s.scanThink(content, thinking)
}

// Flush emits whatever is still held back when the stream ends: an
// undecided prefix goes to content, an unterminated think block to thinking.
func (s *Splitter) Flush(content, thinking func(string)) {
	switch s.state {
	case Undecided:
		if s.buf != "" {
			content(s.buf)
		}
	case InThink:
		if s.buf != "" && thinking != nil {
			thinking(s.buf)
		}
	}
	s.buf = ""
}

// End resets the splitter so it can serve another stream.
func (s *Splitter) End() {
	s.state = Undecided
	s.buf = ""
}

func (s *Splitter) passThrough(content func(string)) {
	s.state = PassThrough
	if s.buf != "" {
		content(s.buf)
	}
	s.buf = ""
}

// scanThink looks for the closing tag over everything buffered since the
// opening tag. Reasoning is emitted as it arrives except for a trailing
// fragment that could be the start of a split closing tag.
func (s *Splitter) scanThink(content, thinking func(string)) {
	if idx := strings.Index(s.buf, closeTag); idx >= 0 {
		if idx > 0 && thinking != nil {
			thinking(s.buf[:idx])
		}
		after := s.buf[idx+len(closeTag):]
		s.state = PassThrough
		s.buf = ""
		if after != "" {
			content(after)
		}
		return
	}

	safe := len(s.buf) - partialSuffix(s.buf, closeTag)
	if safe > 0 {
		if thinking != nil {
			thinking(s.buf[:safe])
		}
		s.buf = s.buf[safe:]
	}
}

// partialSuffix returns the length of the longest suffix of text that is a
// proper prefix of tag.
func partialSuffix(text, tag string) int {
	n := len(tag) - 1
	if n > len(text) {
		n = len(text)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(text, tag[:n]) {
			return n
		}
	}
	return 0
}
