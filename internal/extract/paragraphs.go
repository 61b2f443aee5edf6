// Package extract turns article HTML into cleaned paragraph text.
package extract

import (
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Paragraphs returns the text of every <p> element in the document, skipping
// script, style and noscript sub-trees. Documents without paragraph markup fall
// back to their visible text nodes. The sequence can be ranged over any number
// of times.
func Paragraphs(rawHTML string) iter.Seq[string] {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return empty
	}
	doc.Find("script, style, noscript, template").Remove()

	paras := doc.Find("p")
	if paras.Length() == 0 {
		return TextNodes(doc.Find("body").Nodes...)
	}
	return func(yield func(string) bool) {
		paras.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := collapse(s.Text())
			if text == "" {
				return true
			}
			return yield(text)
		})
	}
}

// TextNodes yields the non-empty text nodes below roots, ignoring anything
// inside script or style elements.
func TextNodes(roots ...*html.Node) iter.Seq[string] {
	return func(yield func(string) bool) {
		var walk func(n *html.Node) bool
		walk = func(n *html.Node) bool {
			if n.Type == html.ElementNode {
				switch n.Data {
				case "script", "style", "noscript", "template", "head":
					return true
				}
			}
			if n.Type == html.TextNode {
				if text := collapse(n.Data); text != "" && !yield(text) {
					return false
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if !walk(c) {
					return false
				}
			}
			return true
		}
		for _, root := range roots {
			if !walk(root) {
				return
			}
		}
	}
}

func empty(func(string) bool) {}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
