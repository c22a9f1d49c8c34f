package export

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// Node is one node of a ProseMirror document.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs"`
	Content []Node         `json:"content"`
	Text    string         `json:"text"`
	Marks   []Mark         `json:"marks"`
}

type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs"`
}

// ProseMirrorToHTML converts ProseMirror JSON to HTML. Malformed input
// renders as an empty string.
func ProseMirrorToHTML(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var root Node
	if err := json.Unmarshal(raw, &root); err != nil {
		return ""
	}
	var b strings.Builder
	renderNode(&b, root)
	return b.String()
}

func wrap(b *strings.Builder, open, close string, n Node) {
	b.WriteString(open)
	renderChildren(b, n)
	b.WriteString(close)
}

func renderNode(b *strings.Builder, n Node) {
	switch n.Type {
	case "doc":
		renderChildren(b, n)
	case "paragraph":
		wrap(b, "<p>", "</p>\n", n)
	case "heading":
		level := 1
		if lvl, ok := n.Attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
			level = int(lvl)
		}
		wrap(b, fmt.Sprintf("<h%d>", level), fmt.Sprintf("</h%d>\n", level), n)
	case "bulletList":
		wrap(b, "<ul>\n", "</ul>\n", n)
	case "orderedList":
		wrap(b, "<ol>\n", "</ol>\n", n)
	case "listItem":
		wrap(b, "<li>", "</li>\n", n)
	case "taskList":
		wrap(b, "<ul class=\"tasks\">\n", "</ul>\n", n)
	case "taskItem":
		box := "&#9744; "
		if checked, _ := n.Attrs["checked"].(bool); checked {
			box = "&#9745; "
		}
		wrap(b, "<li>"+box, "</li>\n", n)
	case "blockquote":
		wrap(b, "<blockquote>\n", "</blockquote>\n", n)
	case "codeBlock":
		b.WriteString("<pre><code>")
		for _, c := range n.Content {
			b.WriteString(html.EscapeString(c.Text))
		}
		b.WriteString("</code></pre>\n")
	case "text":
		b.WriteString(renderText(n.Text, n.Marks))
	case "hardBreak":
		b.WriteString("<br>")
	case "horizontalRule":
		b.WriteString("<hr>\n")
	case "image":
		src, _ := n.Attrs["src"].(string)
		alt, _ := n.Attrs["alt"].(string)
		if safeURL(src) {
			fmt.Fprintf(b, `<img src="%s" alt="%s">`, html.EscapeString(src), html.EscapeString(alt))
		}
	case "table":
		wrap(b, "<table>\n", "</table>\n", n)
	case "tableRow":
		wrap(b, "<tr>\n", "</tr>\n", n)
	case "tableCell":
		wrap(b, "<td>", "</td>\n", n)
	case "tableHeader":
		wrap(b, "<th>", "</th>\n", n)
	default:
		renderChildren(b, n)
	}
}

func renderChildren(b *strings.Builder, n Node) {
	for _, c := range n.Content {
		renderNode(b, c)
	}
}

// renderText applies marks with the first mark outermost.
func renderText(text string, marks []Mark) string {
	out := html.EscapeString(text)
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			out = "<strong>" + out + "</strong>"
		case "italic":
			out = "<em>" + out + "</em>"
		case "code":
			out = "<code>" + out + "</code>"
		case "strike":
			out = "<s>" + out + "</s>"
		case "underline":
			out = "<u>" + out + "</u>"
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			if safeURL(href) {
				out = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), out)
			}
		}
	}
	return out
}

func safeURL(u string) bool {
	l := strings.ToLower(strings.TrimSpace(u))
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") ||
		strings.HasPrefix(l, "mailto:") || strings.HasPrefix(l, "/")
}
