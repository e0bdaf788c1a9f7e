// Paste interception: decide whether a paste is ours, resolve its images
// and commit the result to the document in one go.
package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/phuslu/log"
	"golang.org/x/net/html"
)

// documentEngine is the editor surface pastes are committed into. It owns
// the schema; the interceptor only parses markup, builds image nodes and
// applies transactions.
type documentEngine interface {
	ParseMarkup(markup string) ([]*docNode, error)
	NewImage(attrs imageAttrs) (*docNode, error)
	Apply(tx transaction) error
}

type pasteState int32

const (
	stateIdle pasteState = iota
	stateIntercepted
	stateResolving
	stateCommitting
)

func (s pasteState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateIntercepted:
		return "intercepted"
	case stateResolving:
		return "resolving"
	case stateCommitting:
		return "committing"
	}
	return fmt.Sprintf("pasteState(%d)", int32(s))
}

// errPasteInFlight is reported when rejectConcurrent is set and a paste
// arrives before the previous one has committed.
var errPasteInFlight = errors.New("another paste is still in flight")

// unhandledPasteError wraps anything that aborted a paste after it was
// claimed. The document is left as it was.
type unhandledPasteError struct {
	Stage pasteState
	Err   error
}

func (e *unhandledPasteError) Error() string {
	return fmt.Sprintf("paste aborted while %s: %v", e.Stage, e.Err)
}

func (e *unhandledPasteError) Unwrap() error { return e.Err }

// pasteOutcome is what handlePaste reports back to the host. Handled
// false means the host should run its default paste.
type pasteOutcome struct {
	Handled  bool
	Inserted int // nodes committed to the document
	Uploaded int
	Failed   int
	Err      error
}

type interceptorOptions struct {
	RemoteImages     remotePolicy
	Concurrency      int
	RejectConcurrent bool
	FetchRemote      func(ctx context.Context, url string) (*file, error)
}

type pasteInterceptor struct {
	engine   documentEngine
	files    *materializer
	pipeline *pipeline
	busy     *busyIndicator
	log      *log.Logger

	rejectConcurrent bool
	inFlight         atomic.Bool
	// stages counts in-flight pastes per non-idle state.
	stages [stateCommitting + 1]atomic.Int32
}

func newPasteInterceptor(engine documentEngine, up uploader, files *materializer, opts interceptorOptions, logger *log.Logger) *pasteInterceptor {
	if opts.RemoteImages == "" {
		opts.RemoteImages = remotePassthrough
	}
	if opts.FetchRemote == nil {
		opts.FetchRemote = fetchRemoteImage
	}
	return &pasteInterceptor{
		engine: engine,
		files:  files,
		pipeline: &pipeline{
			upload:      up,
			files:       files,
			fetchRemote: opts.FetchRemote,
			remote:      opts.RemoteImages,
			concurrency: opts.Concurrency,
			log:         logger,
		},
		busy:             &busyIndicator{},
		log:              logger,
		rejectConcurrent: opts.RejectConcurrent,
	}
}

// State reports the furthest stage any in-flight paste has reached. It is
// idle only when no paste is in flight.
func (pi *pasteInterceptor) State() pasteState {
	for s := stateCommitting; s > stateIdle; s-- {
		if pi.stages[s].Load() > 0 {
			return s
		}
	}
	return stateIdle
}

// pasteRun is one paste's progress through the interceptor.
type pasteRun struct {
	pi    *pasteInterceptor
	stage pasteState
}

func (pi *pasteInterceptor) startRun() *pasteRun {
	r := &pasteRun{pi: pi}
	r.advance(stateIntercepted)
	return r
}

func (r *pasteRun) advance(s pasteState) {
	if r.stage != stateIdle {
		r.pi.stages[r.stage].Add(-1)
	}
	r.stage = s
	if s != stateIdle {
		r.pi.stages[s].Add(1)
	}
}

// handlePaste processes one paste event. It blocks until the paste is
// committed or abandoned; the busy flag stays set while any paste is.
func (pi *pasteInterceptor) handlePaste(ctx context.Context, payload *clipboardPayload) (out pasteOutcome) {
	markup := payload.html()
	if markup == "" && !payload.hasImageFiles() {
		return out
	}

	out.Handled = true
	if pi.rejectConcurrent {
		if !pi.inFlight.CompareAndSwap(false, true) {
			out.Err = errPasteInFlight
			pi.log.Warn().Err(out.Err).Msg("paste ignored")
			return out
		}
		defer pi.inFlight.Store(false)
	}

	pi.busy.begin()
	defer pi.busy.end()

	run := pi.startRun()
	defer run.advance(stateIdle)
	defer func() {
		if r := recover(); r != nil {
			out.Err = &unhandledPasteError{Stage: run.stage, Err: fmt.Errorf("panic: %v", r)}
			pi.log.Error().Err(out.Err).Msg("paste failed")
		}
	}()

	var err error
	if markup != "" {
		err = pi.pasteHTML(ctx, run, markup, payload, &out)
	} else {
		err = pi.pasteFiles(ctx, run, payload, &out)
	}
	if err != nil {
		out.Err = &unhandledPasteError{Stage: run.stage, Err: err}
		pi.log.Error().Err(out.Err).Msg("paste failed")
		return out
	}
	pi.log.Info().Int("inserted", out.Inserted).Int("uploaded", out.Uploaded).
		Int("failed", out.Failed).Msg("paste committed")
	return out
}

func (pi *pasteInterceptor) pasteHTML(ctx context.Context, run *pasteRun, markup string, payload *clipboardPayload, out *pasteOutcome) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), bodyContext())
	if err != nil {
		return fmt.Errorf("parse pasted html: %w", err)
	}
	root := fragmentRoot(nodes)

	run.advance(stateResolving)
	_, pending := pi.pipeline.resolveImages(ctx, root, payload)
	for _, p := range pending {
		switch {
		case p.resolved():
			out.Uploaded++
		case p.Err != nil:
			out.Failed++
		}
	}

	run.advance(stateCommitting)
	rewritten, err := renderFragment(root)
	if err != nil {
		return err
	}
	docNodes, err := pi.engine.ParseMarkup(rewritten)
	if err != nil {
		return err
	}
	if err := pi.engine.Apply(transaction{Kind: txReplaceSelection, Nodes: docNodes}); err != nil {
		return fmt.Errorf("commit fragment: %w", err)
	}
	out.Inserted = len(docNodes)
	return nil
}

// pasteFiles handles a clipboard holding image files and no HTML: each
// file negotiates its own upload, and the uploaded ones are committed as
// image nodes at the cursor, in clipboard order, in one transaction.
func (pi *pasteInterceptor) pasteFiles(ctx context.Context, run *pasteRun, payload *clipboardPayload, out *pasteOutcome) error {
	run.advance(stateResolving)
	var pending []*pendingImage
	for _, it := range payload.files() {
		if !it.isImage() {
			continue
		}
		p := &pendingImage{Source: it.Name}
		p.file, p.Err = pi.files.fromClipboardFileItem(it)
		if p.file == nil && p.Err == nil {
			p.Err = fmt.Errorf("clipboard file %q is not readable", it.Name)
		}
		pending = append(pending, p)
	}
	g := pi.pipeline.newGroup()
	for _, p := range pending {
		g.Go(func() error {
			pi.pipeline.uploadAll(ctx, []*pendingImage{p})
			return nil
		})
	}
	g.Wait()

	run.advance(stateCommitting)
	var nodes []*docNode
	for _, p := range pending {
		if !p.resolved() {
			out.Failed++
			continue
		}
		out.Uploaded++
		node, err := pi.engine.NewImage(imageAttrs{Src: p.Replacement})
		if err != nil {
			return err
		}
		nodes = append(nodes, node)
	}
	if len(nodes) == 0 {
		return nil
	}
	if err := pi.engine.Apply(transaction{Kind: txReplaceSelection, Nodes: nodes}); err != nil {
		return fmt.Errorf("insert images: %w", err)
	}
	out.Inserted = len(nodes)
	return nil
}
