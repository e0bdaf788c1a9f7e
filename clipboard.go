// Clipboard payload model: the typed items a paste event carries.
package main

import "strings"

type itemKind string

const (
	kindFile   itemKind = "file"
	kindString itemKind = "string"
)

// clipboardItem is one entry of a paste event. File items carry bytes and
// (usually) a file name; string items carry text such as serialized HTML.
type clipboardItem struct {
	Kind itemKind
	Type string
	Name string
	Data []byte
}

// clipboardPayload is read-only to the paste pipeline and lives for a
// single paste event.
type clipboardPayload struct {
	Items []clipboardItem
}

func newStringItem(mimeType, s string) clipboardItem {
	return clipboardItem{Kind: kindString, Type: mimeType, Data: []byte(s)}
}

func newFileItem(name, mimeType string, data []byte) clipboardItem {
	return clipboardItem{Kind: kindFile, Type: mimeType, Name: name, Data: data}
}

// getData returns the first string item of the given MIME type, or "".
func (p *clipboardPayload) getData(mimeType string) string {
	if p == nil {
		return ""
	}
	for _, it := range p.Items {
		if it.Kind == kindString && strings.EqualFold(it.Type, mimeType) {
			return string(it.Data)
		}
	}
	return ""
}

// html returns the serialized HTML flavour of the clipboard, if any.
func (p *clipboardPayload) html() string {
	return strings.TrimSpace(p.getData("text/html"))
}

// files returns the file items in clipboard order.
func (p *clipboardPayload) files() []clipboardItem {
	if p == nil {
		return nil
	}
	var out []clipboardItem
	for _, it := range p.Items {
		if it.Kind == kindFile {
			out = append(out, it)
		}
	}
	return out
}

func (it clipboardItem) isImage() bool {
	return it.Kind == kindFile && strings.HasPrefix(strings.ToLower(it.Type), "image/")
}

func (p *clipboardPayload) hasImageFiles() bool {
	for _, it := range p.files() {
		if it.isImage() {
			return true
		}
	}
	return false
}
