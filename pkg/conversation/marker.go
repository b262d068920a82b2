package conversation

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ImageMarker is the inline form of an image inside message text. It is a
// markdown image so that any markdown renderer displays it.
func ImageMarker(url string) string {
	return "![image](" + url + ")"
}

var markdown = goldmark.New()

// ExtractImageURLs returns the destinations of every image marker in s, in
// order of appearance.
func ExtractImageURLs(s string) []string {
	if !strings.Contains(s, "![") {
		return nil
	}
	src := []byte(s)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var urls []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if img, ok := n.(*ast.Image); ok {
			urls = append(urls, string(img.Destination))
		}
		return ast.WalkContinue, nil
	})
	return urls
}
