package main

import (
	"strings"
	"testing"
)

func TestDocumentToMarkdown(t *testing.T) {
	d := newMemoryDocument()
	err := d.load(`<h1>Pasted</h1><p>Hello <strong>world</strong> and <a href="https://example.com">a link</a></p>` +
		`<img src="https://cdn.example/x.png" alt="chart"><ul><li>one</li><li>two</li></ul>`)
	if err != nil {
		t.Fatal(err)
	}
	md, err := documentToMarkdown(d)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"# Pasted",
		"**world**",
		"[a link](https://example.com)",
		"![chart](https://cdn.example/x.png)",
		"- one",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestDocumentToMarkdown_NonNetworkImages(t *testing.T) {
	d := newMemoryDocument()
	if err := d.load(`<p>a</p><img src="data:image/png;base64,AAAA" alt="inline chart"><img src="file:///tmp/x.png"><p>b</p>`); err != nil {
		t.Fatal(err)
	}
	md, err := documentToMarkdown(d)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(md, "data:") || strings.Contains(md, "file:") {
		t.Errorf("non-network source leaked into markdown:\n%s", md)
	}
	if !strings.Contains(md, "Image: inline chart") {
		t.Errorf("alt placeholder missing:\n%s", md)
	}
}
