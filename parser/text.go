// Package parser turns fetched documents into listing entries and item fields.
package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe     = regexp.MustCompile(`\s+`)
	spacesRe         = regexp.MustCompile(` +`)
	phoneNoiseRe     = regexp.MustCompile(`\s+|-|\(|\)`)
	forbiddenFileRe  = regexp.MustCompile(`[<>:"/\\|?*]`)
	controlFileRunes = regexp.MustCompile(`[\x00-\x1f]`)
)

// CleanText folds compatibility characters (non-breaking and thin spaces
// included) and collapses whitespace runs into single spaces.
func CleanText(text string) string {
	text = norm.NFKC.String(text)
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
}

// CleanPhone strips spaces, dashes and parentheses from a phone number.
func CleanPhone(phone string) string {
	return phoneNoiseRe.ReplaceAllString(phone, "")
}

// FixFilename replaces characters that are not allowed in file names.
func FixFilename(name string) string {
	name = forbiddenFileRe.ReplaceAllString(name, "_")
	return controlFileRunes.ReplaceAllString(name, "_")
}

// PlainText flattens the children of sel into text. Paragraphs and line
// breaks become newlines and list items are prefixed with "- ".
func PlainText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writePlainText(&b, n)
	}

	text := spacesRe.ReplaceAllString(strings.TrimSpace(b.String()), " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

func writePlainText(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			b.WriteString(whitespaceRe.ReplaceAllString(c.Data, " "))
		case html.ElementNode:
			switch c.Data {
			case "br":
				b.WriteString("\n")
			case "p":
				b.WriteString("\n")
				writePlainText(b, c)
				b.WriteString("\n")
			case "ul", "ol":
				b.WriteString("\n")
				writePlainText(b, c)
			case "li":
				b.WriteString("- ")
				writePlainText(b, c)
				b.WriteString("\n")
			case "script", "style":
			default:
				writePlainText(b, c)
			}
		}
	}
}
