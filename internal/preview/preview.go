// Package preview renders the one-line plain text shown for the last message
// of a conversation.
package preview

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/capitalize-ai/chat-platform/internal/model"
)

// DefaultMaxRunes is the preview length used when none is given.
const DefaultMaxRunes = 120

// NameResolver maps a mentioned user id to a display name. ok is false for
// unknown users, which are rendered as their raw id.
type NameResolver func(userID string) (name string, ok bool)

// Renderer turns markdown message text into plain preview text.
type Renderer struct {
	md       goldmark.Markdown
	maxRunes int
}

// New creates a renderer. maxRunes <= 0 selects DefaultMaxRunes.
func New(maxRunes int) *Renderer {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	return &Renderer{md: goldmark.New(), maxRunes: maxRunes}
}

// Render flattens src to plain text. Links keep only their label and
// mentions become @Display Name.
func (r *Renderer) Render(src string, names NameResolver) string {
	source := []byte(src)
	doc := r.md.Parser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Document:
			return ast.WalkContinue, nil
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.Label(source))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			buf.WriteByte(' ')
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(source))
				buf.WriteByte(' ')
			}
			return ast.WalkSkipChildren, nil
		default:
			if n.Type() == ast.TypeBlock {
				buf.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})

	plain := model.MentionPattern().ReplaceAllStringFunc(buf.String(), func(mention string) string {
		id := mention[1:]
		if names != nil {
			if name, ok := names(id); ok {
				return "@" + name
			}
		}
		return mention
	})
	return Truncate(strings.Join(strings.Fields(plain), " "), r.maxRunes)
}

// Truncate shortens s to at most n runes, ending with an ellipsis when cut.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n == 1 {
		return "…"
	}
	return strings.TrimRight(string(runes[:n-1]), " ") + "…"
}

// UserNames builds a resolver over known users keyed by id.
func UserNames(users map[string]model.User) NameResolver {
	return func(id string) (string, bool) {
		u, ok := users[id]
		if !ok {
			return "", false
		}
		return u.DisplayName(), true
	}
}
