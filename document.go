// In-memory document engine: a small block-structured document with a
// selection, used by the CLI and tests in place of a live editor. Pasted
// markup is forced through a schema before it becomes document nodes.
package main

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// docNode is one node of the document model. Elements use their tag name
// as Type; text nodes use "text".
type docNode struct {
	Type     string
	Attrs    map[string]string
	Text     string
	Children []*docNode
}

type imageAttrs struct {
	Src   string
	Alt   string
	Title string
}

type txKind int

const (
	// txReplaceSelection replaces the current selection with Nodes and
	// leaves the cursor after them.
	txReplaceSelection txKind = iota
	// txInsertAt inserts Nodes before top-level block Pos.
	txInsertAt
)

type transaction struct {
	Kind  txKind
	Pos   int
	Nodes []*docNode
}

func (n *docNode) setAttr(k, v string) {
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	n.Attrs[k] = v
}

// textContent concatenates the text below n.
func (n *docNode) textContent() string {
	if n.Type == "text" {
		return n.Text
	}
	var b strings.Builder
	for _, c := range n.Children {
		b.WriteString(c.textContent())
	}
	return b.String()
}

// stripInvalidXMLChars removes control characters Word and friends leak
// into clipboard HTML.
// Valid: #x9 | #xA | #xD | [#x20-#xD7FF] | [#xE000-#xFFFD] | [#x10000-#x10FFFF]
func stripInvalidXMLChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0x9 || r == 0xA || r == 0xD ||
			(r >= 0x20 && r <= 0xD7FF) ||
			(r >= 0xE000 && r <= 0xFFFD) ||
			(r >= 0x10000 && r <= 0x10FFFF) {
			return r
		}
		return -1 // strip
	}, s)
}

// sanitizeDimensionAttr cleans width/height attribute values to plain
// integers (no decimals, no units).
func sanitizeDimensionAttr(val string) string {
	val = strings.TrimSpace(val)
	for _, suffix := range []string{"px", "em", "rem", "%", "pt"} {
		val = strings.TrimSuffix(val, suffix)
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 {
		return ""
	}
	return strconv.Itoa(int(math.Round(f)))
}

// isPhrasingElement returns true if the tag is a phrasing content element
// that cannot contain block-level elements.
func isPhrasingElement(tag string) bool {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6", "p",
		"span", "b", "strong", "i", "em", "a",
		"code", "sub", "sup", "small", "s", "u", "mark":
		return true
	}
	return false
}

// isBlockElement returns true if the tag stands on its own at the top
// level of the document.
func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "blockquote", "figure", "figcaption",
		"table", "pre", "hr", "img":
		return true
	}
	return false
}

func elemAllowsDimensions(tag string) bool {
	switch tag {
	case "img", "td", "th", "table":
		return true
	}
	return false
}

// isAllowedAttr defines which attributes survive into the document.
// Presentation attributes (style, class, ids) from the source application
// are dropped.
func isAllowedAttr(a html.Attribute) bool {
	switch a.Key {
	case "href", "src", "alt", "title", "width", "height",
		"colspan", "rowspan", "start", "lang", "dir":
		return true
	}
	return false
}

// isAllowedElement returns true if the tag is part of the document schema.
// Disallowed elements are unwrapped, keeping their children.
func isAllowedElement(tag string) bool {
	switch tag {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li",
		"hr", "pre", "blockquote", "em", "strong", "s", "code", "sub", "sup",
		"i", "b", "u", "mark", "small", "span", "br", "img", "a",
		"table", "thead", "tbody", "tr", "td", "th",
		"figure", "figcaption":
		return true
	}
	return false
}

// droppedElements never reach the document, children included.
var droppedElements = map[string]bool{
	"script": true, "style": true, "head": true, "title": true, "meta": true,
	"link": true, "template": true, "noscript": true, "iframe": true,
	"object": true, "embed": true, "source": true, "xml": true,
}

// convertHTML maps an html node onto schema nodes. It may return zero
// nodes (dropped) or several (an unwrapped element's children).
func convertHTML(n *html.Node) []*docNode {
	switch n.Type {
	case html.TextNode:
		return []*docNode{{Type: "text", Text: stripInvalidXMLChars(n.Data)}}
	case html.ElementNode:
	default:
		return nil // comments, doctype
	}

	tag := strings.ToLower(n.Data)
	if droppedElements[tag] {
		return nil
	}
	switch tag {
	case "picture":
		// Collapse to the first <img> child if any
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "img" {
				return convertHTML(c)
			}
		}
		return nil
	case "video", "audio":
		if src := mediaSource(n); src != "" {
			link := &docNode{Type: "a", Attrs: map[string]string{"href": src}}
			link.Children = []*docNode{{Type: "text", Text: "[Media: " + src + "]"}}
			return []*docNode{link}
		}
		return nil
	}

	var children []*docNode
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, convertHTML(c)...)
	}
	if !isAllowedElement(tag) {
		return children
	}

	dn := &docNode{Type: tag}
	for _, a := range n.Attr {
		if !isAllowedAttr(a) {
			continue
		}
		val := a.Val
		if a.Key == "width" || a.Key == "height" {
			if !elemAllowsDimensions(tag) {
				continue
			}
			val = sanitizeDimensionAttr(val)
			if val == "" || val == "0" {
				continue
			}
		}
		dn.setAttr(a.Key, strings.TrimSpace(val))
	}
	if tag == "img" && dn.Attrs["src"] == "" {
		return nil
	}

	// Phrasing elements cannot hold blocks: unwrap block children inline.
	if isPhrasingElement(tag) {
		var flat []*docNode
		for _, c := range children {
			if c.Type != "img" && isBlockElement(c.Type) {
				flat = append(flat, c.Children...)
				continue
			}
			flat = append(flat, c)
		}
		children = flat
	}
	dn.Children = children
	return []*docNode{dn}
}

func mediaSource(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "src" && a.Val != "" {
			return a.Val
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "source" {
			for _, a := range c.Attr {
				if a.Key == "src" && a.Val != "" {
					return a.Val
				}
			}
		}
	}
	return ""
}

// normalizeBlocks wraps runs of inline content into paragraphs so the top
// level only holds blocks. Whitespace-only runs are dropped.
func normalizeBlocks(nodes []*docNode) []*docNode {
	var (
		out    []*docNode
		inline []*docNode
	)
	flush := func() {
		blank := true
		for _, n := range inline {
			if n.Type != "text" || strings.TrimSpace(n.Text) != "" {
				blank = false
				break
			}
		}
		if !blank {
			out = append(out, &docNode{Type: "p", Children: inline})
		}
		inline = nil
	}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if isBlockElement(n.Type) {
			flush()
			out = append(out, n)
			continue
		}
		inline = append(inline, n)
	}
	flush()
	return out
}

// bodyContext is the context element pasted fragments are parsed in.
func bodyContext() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}

func (n *docNode) toHTML() *html.Node {
	if n.Type == "text" {
		return &html.Node{Type: html.TextNode, Data: n.Text}
	}
	el := &html.Node{Type: html.ElementNode, Data: n.Type, DataAtom: atom.Lookup([]byte(n.Type))}
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		el.Attr = append(el.Attr, html.Attribute{Key: k, Val: n.Attrs[k]})
	}
	for _, c := range n.Children {
		el.AppendChild(c.toHTML())
	}
	return el
}

func renderNodes(nodes []*docNode) string {
	var buf bytes.Buffer
	for _, n := range nodes {
		html.Render(&buf, n.toHTML())
	}
	return buf.String()
}

// memoryDocument is a document engine holding top-level blocks and a
// selection expressed as block offsets [from, to).
type memoryDocument struct {
	mu       sync.Mutex
	blocks   []*docNode
	from, to int
}

func newMemoryDocument() *memoryDocument {
	return &memoryDocument{}
}

// ParseMarkup parses serialized markup into schema-valid block nodes.
func (d *memoryDocument) ParseMarkup(markup string) ([]*docNode, error) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), bodyContext())
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	var out []*docNode
	for _, n := range nodes {
		out = append(out, convertHTML(n)...)
	}
	return normalizeBlocks(out), nil
}

func (d *memoryDocument) NewImage(attrs imageAttrs) (*docNode, error) {
	if strings.TrimSpace(attrs.Src) == "" {
		return nil, fmt.Errorf("image node needs a source")
	}
	n := &docNode{Type: "img"}
	n.setAttr("src", attrs.Src)
	if attrs.Alt != "" {
		n.setAttr("alt", attrs.Alt)
	}
	if attrs.Title != "" {
		n.setAttr("title", attrs.Title)
	}
	return n, nil
}

// Apply commits a transaction atomically.
func (d *memoryDocument) Apply(tx transaction) error {
	for i, n := range tx.Nodes {
		if n == nil {
			return fmt.Errorf("transaction node %d is nil", i)
		}
	}
	nodes := normalizeBlocks(tx.Nodes)

	d.mu.Lock()
	defer d.mu.Unlock()
	switch tx.Kind {
	case txReplaceSelection:
		d.blocks = splice(d.blocks, d.from, d.to, nodes)
		d.from += len(nodes)
		d.to = d.from
	case txInsertAt:
		if tx.Pos < 0 || tx.Pos > len(d.blocks) {
			return fmt.Errorf("insert position %d out of range [0,%d]", tx.Pos, len(d.blocks))
		}
		d.blocks = splice(d.blocks, tx.Pos, tx.Pos, nodes)
		if d.from >= tx.Pos {
			d.from += len(nodes)
		}
		if d.to >= tx.Pos {
			d.to += len(nodes)
		}
	default:
		return fmt.Errorf("unknown transaction kind %d", tx.Kind)
	}
	return nil
}

func splice(blocks []*docNode, from, to int, nodes []*docNode) []*docNode {
	out := make([]*docNode, 0, len(blocks)-(to-from)+len(nodes))
	out = append(out, blocks[:from]...)
	out = append(out, nodes...)
	return append(out, blocks[to:]...)
}

// load replaces the whole document and puts the cursor at the end.
func (d *memoryDocument) load(markup string) error {
	nodes, err := d.ParseMarkup(markup)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks = nodes
	d.from, d.to = len(nodes), len(nodes)
	return nil
}

// Select sets the selection to blocks [from, to).
func (d *memoryDocument) Select(from, to int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if from < 0 || to < from || to > len(d.blocks) {
		return fmt.Errorf("selection [%d,%d) out of range [0,%d]", from, to, len(d.blocks))
	}
	d.from, d.to = from, to
	return nil
}

func (d *memoryDocument) Selection() (from, to int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.from, d.to
}

func (d *memoryDocument) Blocks() []*docNode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*docNode(nil), d.blocks...)
}

func (d *memoryDocument) HTML() string {
	return renderNodes(d.Blocks())
}

// imageSources lists every image source in document order.
func (d *memoryDocument) imageSources() []string {
	var srcs []string
	var walk func(n *docNode)
	walk = func(n *docNode) {
		if n.Type == "img" {
			srcs = append(srcs, n.Attrs["src"])
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, b := range d.Blocks() {
		walk(b)
	}
	return srcs
}
