package tts

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PlainTextFromMarkdown extracts the speakable text of a markdown document.
// Code blocks, raw HTML and link targets are dropped; headings, paragraphs
// and list items end in a sentence break so the engine pauses between them.
func PlainTextFromMarkdown(markdown []byte) string {
	reader := text.NewReader(markdown)
	doc := goldmark.New().Parser().Parse(reader)

	var buf strings.Builder
	walkMarkdown(doc, reader.Source(), &buf)
	return NormalizeText(buf.String())
}

func walkMarkdown(node ast.Node, source []byte, buf *strings.Builder) {
	switch n := node.(type) {
	case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock, *ast.RawHTML:
		return

	case *ast.Text:
		buf.Write(n.Segment.Value(source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			buf.WriteByte(' ')
		}
		return

	case *ast.CodeSpan:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		return

	case *ast.Image:
		// alt text only
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walkMarkdown(c, source, buf)
		}
		return

	case *ast.Heading, *ast.Paragraph, *ast.ListItem, *ast.TextBlock:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walkMarkdown(c, source, buf)
		}
		endSentence(buf)
		return

	case *ast.ThematicBreak:
		endSentence(buf)
		return
	}

	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		walkMarkdown(c, source, buf)
	}
}

// endSentence terminates the text written so far unless it already ends in
// punctuation.
func endSentence(buf *strings.Builder) {
	s := strings.TrimRight(buf.String(), " ")
	if s == "" {
		return
	}
	buf.Reset()
	buf.WriteString(s)
	switch s[len(s)-1] {
	case '.', '!', '?', ':', ';':
		buf.WriteByte(' ')
	default:
		buf.WriteString(". ")
	}
}
