// File materialization: turns clipboard file items and inline data URIs
// into uploadable in-memory files.
package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/vincent-petithory/dataurl"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodeWindow is the number of bytes pulled from the base64 decoder per
// read, so huge inline images never need one giant decode call.
const decodeWindow = 1024

// file is the uniform upload unit.
type file struct {
	Name string
	Type string
	Data []byte
}

// decodeError reports an inline image or clipboard file that could not be
// turned into a file. It only ever costs the paste that one image.
type decodeError struct {
	Source string
	Err    error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", truncateSource(e.Source), e.Err)
}

func (e *decodeError) Unwrap() error { return e.Err }

var errFileTooLarge = errors.New("file exceeds maximum allowed size")

// truncateSource shortens data URIs for log and error output.
func truncateSource(src string) string {
	if len(src) > 64 {
		return src[:61] + "..."
	}
	return src
}

type materializer struct {
	maxBytes int64 // 0 means unlimited
	log      *log.Logger
	now      func() time.Time
}

func newMaterializer(maxBytes int64, logger *log.Logger) *materializer {
	return &materializer{maxBytes: maxBytes, log: logger, now: time.Now}
}

// fromClipboardFileItem extracts the file behind a clipboard item of kind
// "file". It returns nil, nil when the item holds no extractable bytes.
func (m *materializer) fromClipboardFileItem(it clipboardItem) (*file, error) {
	if it.Kind != kindFile || len(it.Data) == 0 {
		return nil, nil
	}
	if m.maxBytes > 0 && int64(len(it.Data)) > m.maxBytes {
		return nil, &decodeError{Source: it.Name, Err: fmt.Errorf("%w (%s)", errFileTooLarge, humanSize(m.maxBytes))}
	}
	typ := baseMediaType(it.Type)
	if typ == "" || typ == "application/octet-stream" {
		typ = sniffType(it.Data)
	}
	name := it.Name
	if name == "" {
		name = m.generatedName(typ)
	}
	return &file{Name: name, Type: typ, Data: it.Data}, nil
}

// fromDataURI decodes an inline image source. The media type comes from the
// URI prefix; base64 payloads are decoded in decodeWindow-sized reads and
// may use either alphabet, with or without padding.
func (m *materializer) fromDataURI(uri string) (*file, error) {
	if !strings.HasPrefix(strings.ToLower(uri), "data:") {
		return nil, &decodeError{Source: uri, Err: errors.New("not a data URI")}
	}
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, &decodeError{Source: uri, Err: errors.New("missing data separator")}
	}
	header, payload := uri[len("data:"):comma], uri[comma+1:]

	isBase64 := false
	if i := strings.LastIndexByte(header, ';'); i >= 0 && strings.EqualFold(strings.TrimSpace(header[i+1:]), "base64") {
		isBase64 = true
		header = header[:i]
	}

	var (
		typ  string
		data []byte
		err  error
	)
	if isBase64 {
		typ = baseMediaType(header)
		data, err = decodeBase64Windowed(payload, m.maxBytes)
	} else {
		// Percent-encoded payloads (typically SVG) are small; dataurl
		// handles the unescaping and the media type parameters.
		var du *dataurl.DataURL
		du, err = dataurl.DecodeString(uri)
		if err == nil {
			typ = du.MediaType.ContentType()
			data = du.Data
			if m.maxBytes > 0 && int64(len(data)) > m.maxBytes {
				err = errFileTooLarge
			}
		}
	}
	if err != nil {
		return nil, &decodeError{Source: uri, Err: err}
	}
	if len(data) == 0 {
		return nil, &decodeError{Source: uri, Err: errors.New("empty image data")}
	}
	if typ == "" || typ == "application/octet-stream" {
		typ = sniffType(data)
	}
	if !strings.HasPrefix(typ, "image/") {
		return nil, &decodeError{Source: uri, Err: fmt.Errorf("unsupported media type %q", typ)}
	}
	return &file{Name: m.generatedName(typ), Type: typ, Data: data}, nil
}

// base64Cleaner drops whitespace and undoes the percent-escapes some
// clipboards apply to the base64 alphabet.
var base64Cleaner = strings.NewReplacer(
	" ", "", "\t", "", "\n", "", "\r", "",
	"%2B", "+", "%2b", "+",
	"%2F", "/", "%2f", "/",
	"%3D", "=", "%3d", "=",
)

func decodeBase64Windowed(payload string, limit int64) ([]byte, error) {
	payload = strings.TrimRight(base64Cleaner.Replace(payload), "=")
	if payload == "" {
		return nil, errors.New("empty image data")
	}
	enc := base64.RawStdEncoding
	if strings.ContainsAny(payload, "-_") {
		enc = base64.RawURLEncoding
	}

	dec := base64.NewDecoder(enc, strings.NewReader(payload))
	var out bytes.Buffer
	out.Grow(enc.DecodedLen(len(payload)))
	window := make([]byte, decodeWindow)
	for {
		n, err := dec.Read(window)
		out.Write(window[:n])
		if limit > 0 && int64(out.Len()) > limit {
			return nil, fmt.Errorf("%w (%s)", errFileTooLarge, humanSize(limit))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("base64: %w", err)
		}
	}
	return out.Bytes(), nil
}

// baseMediaType strips parameters and normalises case; "" when unparseable.
func baseMediaType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return ""
	}
	return mt
}

func sniffType(data []byte) string {
	return baseMediaType(mimetype.Detect(data).String())
}

// generatedName returns a session-unique name for files that arrive
// without one: a UTC timestamp down to the nanosecond plus a UUID fragment.
func (m *materializer) generatedName(mimeType string) string {
	return fmt.Sprintf("pasted-%s-%s%s",
		m.now().UTC().Format("20060102T150405.000000000"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		extensionFor(mimeType))
}

func extensionFor(mimeType string) string {
	if mt := mimetype.Lookup(mimeType); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	if _, sub, ok := strings.Cut(mimeType, "/"); ok && sub != "" {
		sub, _, _ = strings.Cut(sub, "+")
		return "." + sub
	}
	return ".bin"
}

// probeDimensions reads only the image header. It exists for diagnostics;
// a failure never affects the upload.
func (m *materializer) probeDimensions(f *file) (w, h int, ok bool) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		m.log.Debug().Str("file", f.Name).Str("type", f.Type).Err(err).Msg("dimension probe skipped")
		return 0, 0, false
	}
	m.log.Debug().Str("file", f.Name).Str("format", format).
		Int("width", cfg.Width).Int("height", cfg.Height).
		Str("size", humanSize(int64(len(f.Data)))).Msg("image ready for upload")
	return cfg.Width, cfg.Height, true
}
