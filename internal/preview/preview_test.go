package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/chat-platform/internal/model"
)

const bob = "bbbbbbbbbbbbbbbbbbbbbbbb"

func TestRender(t *testing.T) {
	names := UserNames(map[string]model.User{bob: {ID: bob, Firstname: "Bob", Lastname: "Builder"}})
	r := New(0)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"link keeps label", "see [the docs](https://example.com/docs) first", "see the docs first"},
		{"autolink keeps url", "go to <https://example.com>", "go to https://example.com"},
		{"emphasis dropped", "this is **very** _important_", "this is very important"},
		{"mention resolved", "ping @" + bob + " please", "ping @Bob Builder please"},
		{"unknown mention kept", "ping @cccccccccccccccccccccccc", "ping @cccccccccccccccccccccccc"},
		{"paragraphs joined", "first line\n\nsecond line", "first line second line"},
		{"soft break", "first\nsecond", "first second"},
		{"inline code", "run `make test` now", "run make test now"},
		{"html skipped", "a <b>bold</b> move", "a bold move"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Render(tt.in, names))
		})
	}
}

func TestRenderNilResolver(t *testing.T) {
	assert.Equal(t, "hi @"+bob, New(0).Render("hi @"+bob, nil))
}

func TestRenderTruncates(t *testing.T) {
	r := New(10)
	assert.Equal(t, "abcdefghi…", r.Render("abcdefghijklmnop", nil))
	assert.Equal(t, "short", r.Render("short", nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héllo", Truncate("héllo", 5))
	assert.Equal(t, "hé…", Truncate("héllo", 3))
	assert.Equal(t, "…", Truncate("héllo", 1))
	assert.Equal(t, "héllo", Truncate("héllo", 0))
}
