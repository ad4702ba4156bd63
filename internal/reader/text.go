package reader

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// DisplayText 把 HTML 转为展示用的轻量标记：标题加粗、列表转圆点、段落空行，
// 其余标签全部去掉；正文里的 [ ] 会被转义，只有 [b] 标记是生成的。
func DisplayText(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return CleanText(raw)
	}
	var sb strings.Builder
	render(&sb, doc)
	return normalizeLines(sb.String())
}

// CleanText 用于已经是纯文本的正文（例如浏览器抽取结果），保留原有换行
func CleanText(text string) string {
	return normalizeLines(escapeMarkup(text))
}

func render(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(escapeMarkup(collapse(n.Data)))
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		case atom.H1, atom.H2, atom.H3:
			if inner := innerText(n); inner != "" {
				lineBreak(sb)
				sb.WriteString("[b]" + inner + "[/b]\n\n")
			}
			return
		case atom.Li:
			if inner := innerText(n); inner != "" {
				lineBreak(sb)
				sb.WriteString("• " + inner + "\n")
			}
			return
		case atom.Br:
			sb.WriteString("\n")
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(sb, c)
	}

	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.P:
			sb.WriteString("\n\n")
		case atom.Div, atom.Section, atom.Article, atom.Blockquote, atom.Pre,
			atom.Ul, atom.Ol, atom.Tr, atom.Figure, atom.H4, atom.H5, atom.H6:
			sb.WriteString("\n")
		}
	}
}

// lineBreak 保证接下来的内容从新的一行开始
func lineBreak(sb *strings.Builder) {
	if s := strings.TrimRight(sb.String(), " "); s != "" && !strings.HasSuffix(s, "\n") {
		sb.WriteString("\n")
	}
}

// innerText 拍平节点内的所有文本，忽略脚本样式
func innerText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return escapeMarkup(strings.Join(strings.Fields(sb.String()), " "))
}

// collapse 把 HTML 文本节点里的任意空白（含换行）折叠为单个空格
func collapse(s string) string {
	if s == "" {
		return ""
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return " "
	}
	out := strings.Join(fields, " ")
	if isSpace(s[0]) {
		out = " " + out
	}
	if isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r' || b == '\f'
}

func escapeMarkup(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}

func normalizeLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spaceRun.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
