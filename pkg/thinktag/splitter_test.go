package thinktag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinks struct {
	content  strings.Builder
	thinking strings.Builder
}

func (k *sinks) feed(s *Splitter, chunks ...string) {
	for _, c := range chunks {
		s.Process(c, func(t string) { k.content.WriteString(t) }, func(t string) { k.thinking.WriteString(t) })
	}
}

func (k *sinks) flush(s *Splitter) {
	s.Flush(func(t string) { k.content.WriteString(t) }, func(t string) { k.thinking.WriteString(t) })
}

// splits returns every way of cutting text into at most three fragments.
func splits(text string) [][]string {
	var out [][]string
	for i := 0; i <= len(text); i++ {
		for j := i; j <= len(text); j++ {
			out = append(out, []string{text[:i], text[i:j], text[j:]})
		}
	}
	return out
}

func TestSplitterThinkBlockAnyChunking(t *testing.T) {
	const x, y = "weighing options", "final answer"
	text := "<think>" + x + "</think>" + y

	for _, chunks := range splits(text) {
		s := New()
		var k sinks
		k.feed(s, chunks...)
		k.flush(s)
		require.Equal(t, x, k.thinking.String(), "chunks %q", chunks)
		require.Equal(t, y, k.content.String(), "chunks %q", chunks)
		require.Equal(t, PassThrough, s.State())
	}
}

func TestSplitterByteByByte(t *testing.T) {
	text := "<think>a</thin</think>b<think>c</think>"
	s := New()
	var k sinks
	for i := 0; i < len(text); i++ {
		k.feed(s, text[i:i+1])
	}
	assert.Equal(t, "a</thin", k.thinking.String())
	assert.Equal(t, "b<think>c</think>", k.content.String())
}

func TestSplitterNoTagAnyChunking(t *testing.T) {
	for _, text := range []string{"plain answer", "<thin", "<b>bold</b>", "<thinking>no</thinking>", " <think>x</think>"} {
		for _, chunks := range splits(text) {
			s := New()
			var k sinks
			k.feed(s, chunks...)
			k.flush(s)
			require.Equal(t, text, k.content.String(), "chunks %q", chunks)
			require.Empty(t, k.thinking.String())
		}
	}
}

func TestSplitterSplitTags(t *testing.T) {
	s := New()
	var k sinks
	k.feed(s, "<thi", "nk>reasoning here</thi", "nk>answer")

	assert.Equal(t, "reasoning here", k.thinking.String())
	assert.Equal(t, "answer", k.content.String())
}

func TestSplitterStates(t *testing.T) {
	s := New()
	var k sinks

	k.feed(s, "<th")
	assert.Equal(t, Undecided, s.State())
	assert.Empty(t, k.content.String())

	k.feed(s, "ink>")
	assert.Equal(t, InThink, s.State())

	k.feed(s, "hmm</think>")
	assert.Equal(t, PassThrough, s.State())
	assert.Empty(t, k.content.String())
}

func TestSplitterUndecidedFlushesOnMismatch(t *testing.T) {
	s := New()
	var k sinks
	k.feed(s, "<th")
	k.feed(s, "e end")

	assert.Equal(t, PassThrough, s.State())
	assert.Equal(t, "<the end", k.content.String())
}

func TestSplitterFlushUnterminatedThink(t *testing.T) {
	s := New()
	var k sinks
	k.feed(s, "<think>never closed</thi")
	assert.Equal(t, "never closed", k.thinking.String())

	k.flush(s)
	assert.Equal(t, "never closed</thi", k.thinking.String())
	assert.Empty(t, k.content.String())
}

func TestSplitterEndResets(t *testing.T) {
	s := New()
	var k sinks
	k.feed(s, "first stream")
	s.End()
	assert.Equal(t, Undecided, s.State())

	k = sinks{}
	k.feed(s, "<think>r</think>c")
	assert.Equal(t, "r", k.thinking.String())
	assert.Equal(t, "c", k.content.String())
}

func TestSplitterNilThinkingSink(t *testing.T) {
	s := New()
	var content strings.Builder
	for _, c := range []string{"<think>drop", "ped</think>", "kept"} {
		s.Process(c, func(t string) { content.WriteString(t) }, nil)
	}
	assert.Equal(t, "kept", content.String())
}
