// Package richtext handles the free-text actions field. The stored form is
// the raw source the user typed; Render produces a restricted markup subset
// for display and is never persisted.
package richtext

import (
	"html"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// inline recognizes paragraphs and *-delimited emphasis only. Headings,
// quotes, links, code and every other markdown construct stay literal text.
var inline = parser.NewParser(
	parser.WithBlockParsers(util.Prioritized(parser.NewParagraphParser(), 1000)),
	parser.WithInlineParsers(util.Prioritized(starEmphasis{}, 100)),
)

// Encode returns the value that is stored for raw. Storage keeps the source
// verbatim so editing never round-trips through rendered markup.
func Encode(raw string) string {
	return raw
}

// Render converts raw to display markup. Only <strong>, <em>, <ul>, <li> and
// <br> are emitted: "**x**" is bold, "*x*" italic and a line starting with
// "- " a bullet. Everything else, including any HTML, comes out as escaped
// text.
func Render(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	var (
		out    strings.Builder
		run    []string
		inList bool
	)
	flushRun := func() {
		if len(run) > 0 {
			out.WriteString(renderInline(strings.Join(run, "\n")))
			run = run[:0]
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		if item, ok := bullet(line); ok {
			if !inList {
				flushRun()
				out.WriteString("<ul>")
				inList = true
			}
			out.WriteString("<li>" + renderInline(item) + "</li>")
			continue
		}
		if inList {
			if strings.TrimSpace(line) == "" {
				continue
			}
			out.WriteString("</ul>")
			inList = false
		}
		run = append(run, line)
	}
	if inList {
		out.WriteString("</ul>")
	}
	flushRun()
	return out.String()
}

func bullet(line string) (string, bool) {
	return strings.CutPrefix(strings.TrimLeft(line, " \t"), "- ")
}

// renderInline renders a run of non-bullet lines. Blank-line separated
// paragraphs and line breaks inside a paragraph both become <br>.
func renderInline(src string) string {
	source := []byte(src)
	document := inline.Parse(text.NewReader(source))

	r := &renderer{source: source}
	_ = ast.Walk(document, r.walk)

	out := r.out.String()
	for strings.HasSuffix(out, "<br>") {
		out = strings.TrimSuffix(out, "<br>")
	}
	return out
}

type renderer struct {
	source []byte
	out    strings.Builder

	// paragraphs counts the paragraphs opened so far.
	paragraphs int
}

func (r *renderer) text(value []byte) {
	r.out.WriteString(html.EscapeString(string(value)))
}

func (r *renderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n := node.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		if entering {
			if r.paragraphs > 0 {
				r.out.WriteString("<br>")
			}
			r.paragraphs++
		}

	case *ast.Emphasis:
		tag := "em"
		if n.Level >= 2 {
			tag = "strong"
		}
		if entering {
			r.out.WriteString("<" + tag + ">")
		} else {
			r.out.WriteString("</" + tag + ">")
		}

	case *ast.Text:
		if !entering {
			return ast.WalkContinue, nil
		}
		r.text(n.Segment.Value(r.source))
		// A trailing backslash is consumed as a hard break marker.
		if n.HardLineBreak() && n.Segment.Stop < len(r.source) && r.source[n.Segment.Stop] == '\\' {
			r.out.WriteString("\\")
		}
		if n.SoftLineBreak() || n.HardLineBreak() {
			r.out.WriteString("<br>")
		}

	case *ast.String:
		if entering {
			r.text(n.Value)
		}
	}
	return ast.WalkContinue, nil
}

// starEmphasis is goldmark's emphasis parser restricted to '*', so
// underscores in notes never turn into emphasis.
type starEmphasis struct{}

func (starEmphasis) IsDelimiter(b byte) bool { return b == '*' }

func (starEmphasis) CanOpenCloser(opener, closer *parser.Delimiter) bool {
	return opener.Char == closer.Char
}

func (starEmphasis) OnMatch(consumes int) ast.Node { return ast.NewEmphasis(consumes) }

func (starEmphasis) Trigger() []byte { return []byte{'*'} }

func (p starEmphasis) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	before := block.PrecendingCharacter()
	line, segment := block.PeekLine()
	node := parser.ScanDelimiter(line, before, 1, p)
	if node == nil {
		return nil
	}
	node.Segment = segment.WithStop(segment.Start + node.OriginalLength)
	block.Advance(node.OriginalLength)
	pc.PushDelimiter(node)
	return node
}
