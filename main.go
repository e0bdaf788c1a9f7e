// pastehook: replay a clipboard paste into a document, uploading pasted
// images to object storage and rewriting their sources.
//
// HTML paste (images referenced from the HTML may be file://, data: or remote):
//
//	pastehook [options] -html clip.html [clipboard image files...]
//
// Raw image paste:
//
//	pastehook [options] image.png [image.png...]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// cliConfig holds parsed command-line options.
type cliConfig struct {
	configPath   string
	htmlPath     string
	intoPath     string
	output       string
	format       string
	apiBase      string
	ticketFormat string
	remoteImages string
	concurrency  int
	files        []string
}

// buildPayload assembles the clipboard a paste would carry: the HTML
// flavour (if any) plus one file item per image file.
func buildPayload(htmlPath string, files []string) (*clipboardPayload, error) {
	payload := &clipboardPayload{}
	if htmlPath != "" {
		var (
			data []byte
			err  error
		)
		if htmlPath == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(htmlPath)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", htmlPath, err)
		}
		payload.Items = append(payload.Items, newStringItem("text/html", string(data)))
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		mt := baseMediaType(mimetype.Detect(data).String())
		payload.Items = append(payload.Items, newFileItem(filepath.Base(f), mt, data))
	}
	return payload, nil
}

// newTicketSource picks local presigning when storage is configured and
// the negotiation API otherwise.
func newTicketSource(cfg *Config, timeout time.Duration) (ticketSource, error) {
	format := ticketFormat(cfg.Upload.TicketFormat)
	if cfg.Storage.Endpoint != "" {
		return newLocalPresigner(cfg.Storage, format)
	}
	return newPresignAPI(cfg.API.BaseURL, format, timeout)
}

// applyFlagOverrides copies explicitly set flags over the file config.
func applyFlagOverrides(cfg *Config, cli cliConfig) {
	if cli.apiBase != "" {
		cfg.API.BaseURL = cli.apiBase
	}
	if cli.ticketFormat != "" {
		cfg.Upload.TicketFormat = cli.ticketFormat
	}
	if cli.remoteImages != "" {
		cfg.Paste.RemoteImages = cli.remoteImages
	}
	if cli.concurrency >= 0 {
		cfg.Upload.Concurrency = cli.concurrency
	}
}

// run executes the main application logic, returning any error.
func run(ctx context.Context, cli cliConfig) error {
	if cli.htmlPath == "" && len(cli.files) == 0 {
		return fmt.Errorf("nothing to paste: pass -html and/or image files")
	}
	if cli.format != "html" && cli.format != "markdown" {
		return fmt.Errorf("unknown -format %q (want html or markdown)", cli.format)
	}

	cfg, err := loadConfig(cli.configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, cli)
	if err := validateConfig(cfg); err != nil {
		return err
	}

	logger := newLogger(logOut, cfg.Logging.Level)
	fetchProxyURL = cfg.Paste.Proxy
	maxResponseBytes = cfg.Upload.MaxFileBytes

	timeout, _ := parseDuration(cfg.API.Timeout, 30*time.Second)
	tickets, err := newTicketSource(cfg, timeout)
	if err != nil {
		return err
	}

	doc := newMemoryDocument()
	if cli.intoPath != "" {
		existing, err := os.ReadFile(cli.intoPath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", cli.intoPath, err)
		}
		if err := doc.load(string(existing)); err != nil {
			return err
		}
	}

	payload, err := buildPayload(cli.htmlPath, cli.files)
	if err != nil {
		return err
	}

	files := newMaterializer(cfg.Upload.MaxFileBytes, logger)
	pi := newPasteInterceptor(doc, newUploadClient(tickets, timeout), files, interceptorOptions{
		RemoteImages:     remotePolicy(cfg.Paste.RemoteImages),
		Concurrency:      cfg.Upload.Concurrency,
		RejectConcurrent: cfg.Paste.RejectConcurrent,
	}, logger)
	pi.busy.OnChange(func(busy bool) {
		if busy {
			pprintf("Pasting...\n")
		}
	})

	out := pi.handlePaste(ctx, payload)
	if !out.Handled {
		return fmt.Errorf("nothing to paste: clipboard holds no HTML or image files")
	}
	if out.Err != nil {
		return out.Err
	}
	var chars int
	for _, b := range doc.Blocks() {
		chars += len([]rune(b.textContent()))
	}
	logger.Debug().Int("blocks", len(doc.Blocks())).Int("chars", chars).
		Strs("images", doc.imageSources()).Msg("document after paste")

	var rendered string
	if cli.format == "markdown" {
		if rendered, err = documentToMarkdown(doc); err != nil {
			return err
		}
		rendered += "\n"
	} else {
		rendered = doc.HTML() + "\n"
	}

	if cli.output != "" {
		if err := os.WriteFile(cli.output, []byte(rendered), 0644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	} else {
		os.Stdout.WriteString(rendered)
	}
	pprintf("✓ %d nodes pasted, %d images uploaded, %d failed\n", out.Inserted, out.Uploaded, out.Failed)
	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to pastehook.toml")
	htmlPath := flag.String("html", "", "File holding the clipboard's text/html flavour (- for stdin)")
	intoPath := flag.String("into", "", "Existing HTML document to paste into (cursor at the end)")
	output := flag.String("o", "", "Output file (default: stdout)")
	format := flag.String("format", "html", "Output format: html or markdown")
	apiBase := flag.String("api", "", "Base URL of the upload negotiation API")
	ticket := flag.String("ticket-format", "", "Upload ticket shape: post-policy or put")
	remote := flag.String("remote-images", "", "Remote image policy: passthrough or reupload")
	concurrency := flag.Int("concurrency", -1, "Max concurrent image uploads (0 = unbounded)")
	silent := flag.Bool("silent", false, "Suppress all output except errors (for pipeline use)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pastehook [options] -html clip.html [image files...]\n")
		fmt.Fprintf(os.Stderr, "       pastehook [options] image.png [...]\n\n")
		fmt.Fprintf(os.Stderr, "Replay a paste into a document, uploading pasted images to object storage.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *silent {
		logOut = io.Discard
	} else if *output != "" {
		progressOut = os.Stdout
	}

	cli := cliConfig{
		configPath:   *configPath,
		htmlPath:     *htmlPath,
		intoPath:     *intoPath,
		output:       *output,
		format:       *format,
		apiBase:      *apiBase,
		ticketFormat: *ticket,
		remoteImages: *remote,
		concurrency:  *concurrency,
		files:        flag.Args(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
