package host

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/guseggert/nativehost/fabric"
	"github.com/guseggert/nativehost/protocol"
)

type lineResult struct {
	line string
	err  error
}

// stream runs the tool over req.Content and replies with one content message per output line,
// terminated by exactly one done or error message.
func (h *Host) stream(ctx context.Context, id uuid.UUID, path string, req protocol.ProcessContent, reply func(protocol.ResponsePayload)) {
	log := h.log.Named("stream").With("ID", id)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := fabric.StreamCommand(path, fabric.StreamOptions{
		Model:        req.Model,
		Pattern:      req.Pattern,
		Context:      req.Context,
		CustomPrompt: req.CustomPrompt,
	})
	proc, err := h.runner.Start(ctx, cmd)
	if err != nil {
		log.Debugf("spawn failed: %s", err)
		reply(protocol.Error{Message: fmt.Sprintf("Failed to start fabric: %s", err)})
		return
	}
	if err := h.registry.Register(id, cancel); err != nil {
		proc.Kill()
		proc.Wait()
		reply(protocol.Error{Message: fmt.Sprintf("Request %s: %s", id, err)})
		return
	}
	log.Debugw("stream started", "Args", cmd.Args)

	inputDone := make(chan error, 1)
	go func() {
		err := proc.WriteInput([]byte(req.Content))
		if cerr := proc.CloseInput(); err == nil {
			err = cerr
		}
		inputDone <- err
	}()

	lines := make(chan lineResult)
	go func() {
		defer close(lines)
		for {
			line, err := proc.ReadLine()
			if err == io.EOF {
				err = nil
				if line == "" {
					return
				}
			}
			select {
			case lines <- lineResult{line: line, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var (
		cancelled bool
		streamErr error
		maxChunk  = h.maxContentChunk()
	)
loop:
	for lines != nil || inputDone != nil {
		select {
		case <-ctx.Done():
			cancelled = true
			break loop
		case err := <-inputDone:
			inputDone = nil
			if err != nil {
				streamErr = fmt.Errorf("Failed to write content to fabric: %w", err)
				break loop
			}
		case res, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if res.err != nil {
				streamErr = fmt.Errorf("Failed to read fabric output: %w", res.err)
				break loop
			}
			for _, chunk := range splitContent(res.line, maxChunk) {
				reply(protocol.Content{Content: chunk})
			}
		}
	}

	if cancelled || streamErr != nil {
		if err := proc.Kill(); err != nil {
			log.Debugf("killing process: %s", err)
		}
	}
	result, waitErr := proc.Wait()
	h.registry.Unregister(id)
	cancel()

	switch {
	case cancelled:
		log.Debug("stream cancelled")
		reply(protocol.Done{Cancelled: true})
	case streamErr != nil:
		log.Debugf("stream failed: %s", streamErr)
		reply(protocol.Error{Message: streamErr.Error()})
	case waitErr != nil:
		log.Debugf("waiting for process: %s", waitErr)
		reply(protocol.Error{Message: fmt.Sprintf("Failed to wait for fabric: %s", waitErr)})
	default:
		if !result.Success() {
			log.Warnw("process exited unsuccessfully", "ExitCode", result.Code(), "Signaled", result.Signaled, "Stderr", strings.TrimSpace(proc.Stderr()))
		}
		log.Debugw("stream finished", "ExitCode", result.Code(), "Duration", result.Duration)
		reply(protocol.Done{ExitCode: result.Code()})
	}
}

// maxContentChunk bounds the raw size of one content message so that its JSON encoding,
// where a byte can expand to six, stays under the codec limit.
func (h *Host) maxContentChunk() int {
	n := (h.codec.Limit() - 256) / 6
	if n < 1 {
		n = 1
	}
	return n
}

// splitContent splits s into pieces of at most max bytes without breaking UTF-8 sequences.
func splitContent(s string, max int) []string {
	if len(s) <= max {
		return []string{s}
	}
	var chunks []string
	for len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			_, size := utf8.DecodeRuneInString(s)
			cut = size
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
