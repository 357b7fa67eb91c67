package format

import (
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	lru "github.com/hashicorp/golang-lru"
)

var numberedItem = regexp.MustCompile(`^\d+\.\s`)

// Renderer turns bot reply text into sanitized HTML. Messages never change
// once appended, so results are cached by message id.
type Renderer struct {
	cache *lru.Cache
}

// NewRenderer creates a renderer caching up to size rendered messages.
func NewRenderer(size int) (*Renderer, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Renderer{cache: cache}, nil
}

// Render returns the HTML for the message with the given id.
func (r *Renderer) Render(id, text string) string {
	if id != "" {
		if cached, ok := r.cache.Get(id); ok {
			return cached.(string)
		}
	}
	out := ToHTML(text)
	if id != "" {
		r.cache.Add(id, out)
	}
	return out
}

// ToHTML renders markdown to HTML. Raw HTML in the input is dropped.
func ToHTML(text string) string {
	text = normalizeMarkdownLists(PreprocessAssistantText(text))

	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.SkipHTML | html.HrefTargetBlank,
	})
	return string(markdown.ToHTML([]byte(text), p, renderer))
}

// PreprocessAssistantText normalizes LLM output.
func PreprocessAssistantText(text string) string {
	if text == "" {
		return text
	}

	// Replace curly quotes (helps readability)
	return strings.NewReplacer(
		"“", "\"",
		"”", "\"",
		"‘", "'",
		"’", "'",
	).Replace(text)
}

func isListItem(line string) bool {
	return strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "+ ") ||
		numberedItem.MatchString(line)
}

// normalizeMarkdownLists inserts the blank line markdown requires before a
// list. Models often put a list directly under a line of text.
func normalizeMarkdownLists(text string) string {
	lines := strings.Split(text, "\n")
	result := make([]string, 0, len(lines))

	for i, line := range lines {
		if i > 0 && isListItem(strings.TrimSpace(line)) {
			prev := strings.TrimSpace(lines[i-1])
			if prev != "" && !isListItem(prev) {
				result = append(result, "")
			}
		}
		result = append(result, line)
	}

	return strings.Join(result, "\n")
}
