package main

import "testing"

func TestClipboardPayload_GetData(t *testing.T) {
	p := &clipboardPayload{Items: []clipboardItem{
		newStringItem("text/plain", "plain"),
		newStringItem("TEXT/HTML", "  <p>first</p>\n"),
		newStringItem("text/html", "<p>second</p>"),
	}}
	if got := p.getData("text/plain"); got != "plain" {
		t.Errorf("text/plain = %q", got)
	}
	if got := p.html(); got != "<p>first</p>" {
		t.Errorf("html = %q, want first html item trimmed", got)
	}
	if got := p.getData("text/rtf"); got != "" {
		t.Errorf("missing flavour = %q", got)
	}
}

func TestClipboardPayload_Nil(t *testing.T) {
	var p *clipboardPayload
	if p.html() != "" || p.files() != nil || p.hasImageFiles() {
		t.Error("nil payload should be empty")
	}
}

func TestClipboardPayload_Files(t *testing.T) {
	p := &clipboardPayload{Items: []clipboardItem{
		newFileItem("a.png", "image/png", []byte{1}),
		newStringItem("text/html", "<p>x</p>"),
		newFileItem("b.txt", "text/plain", []byte{2}),
		newFileItem("c.JPG", "Image/JPEG", []byte{3}),
	}}
	files := p.files()
	if len(files) != 3 || files[0].Name != "a.png" || files[1].Name != "b.txt" || files[2].Name != "c.JPG" {
		t.Fatalf("files = %+v", files)
	}
	if !files[0].isImage() || files[1].isImage() || !files[2].isImage() {
		t.Error("isImage misclassified a file")
	}
	if !p.hasImageFiles() {
		t.Error("hasImageFiles = false")
	}

	textOnly := &clipboardPayload{Items: []clipboardItem{newFileItem("b.txt", "text/plain", []byte{2})}}
	if textOnly.hasImageFiles() {
		t.Error("text file counted as image")
	}
}
