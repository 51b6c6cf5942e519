package host

import (
	"context"
	"fmt"
	"strings"

	"github.com/guseggert/nativehost/fabric"
	"github.com/guseggert/nativehost/protocol"
	"github.com/guseggert/nativehost/runner"
)

type sendFunc func(protocol.Response)

func (h *Host) handle(ctx context.Context, req protocol.Request, send sendFunc) {
	reply := func(p protocol.ResponsePayload) {
		send(protocol.Response{ID: req.ID, Payload: p})
	}

	path, err := h.resolver.Resolve(req.Path)
	if err != nil {
		h.log.Debugw("resolving executable", "ID", req.ID, "Error", err)
		if _, ok := req.Payload.(protocol.Ping); ok {
			reply(protocol.Pong{Valid: false})
			return
		}
		reply(protocol.Error{Message: fmt.Sprintf("Failed to find fabric: %s", err)})
		return
	}

	switch p := req.Payload.(type) {
	case protocol.Ping:
		reply(h.ping(ctx, path))
	case protocol.ListPatterns:
		reply(h.list(ctx, fabric.ListPatternsCommand(path), "patterns", func(names []string) protocol.ResponsePayload {
			return protocol.PatternsList{Patterns: names}
		}))
	case protocol.ListContexts:
		reply(h.list(ctx, fabric.ListContextsCommand(path), "contexts", func(names []string) protocol.ResponsePayload {
			return protocol.ContextsList{Contexts: names}
		}))
	case protocol.ProcessContent:
		h.stream(ctx, req.ID, path, p, reply)
	default:
		reply(protocol.Error{Message: fmt.Sprintf("unsupported request type %q", req.Payload.RequestType())})
	}
}

func (h *Host) ping(ctx context.Context, path string) protocol.Pong {
	out, err := runner.Collect(ctx, h.runner, fabric.VersionCommand(path))
	if err != nil {
		h.log.Warnf("running %s --version: %s", path, err)
		return protocol.Pong{ResolvedPath: &path}
	}
	if !out.Result.Success() {
		h.log.Warnw("version check failed", "Path", path, "ExitCode", out.Result.Code(), "Stderr", strings.TrimSpace(out.Stderr))
		return protocol.Pong{ResolvedPath: &path}
	}
	version := strings.TrimSpace(out.Stdout)
	return protocol.Pong{ResolvedPath: &path, Version: &version, Valid: true}
}

// list runs a listing command. what names the listing in error messages.
func (h *Host) list(ctx context.Context, cmd runner.Command, what string, result func([]string) protocol.ResponsePayload) protocol.ResponsePayload {
	out, err := runner.Collect(ctx, h.runner, cmd)
	if err != nil {
		return protocol.Error{Message: fmt.Sprintf("Failed to list %s: %s", what, err)}
	}
	if !out.Result.Success() {
		return protocol.Error{Message: fmt.Sprintf("Failed to list %s: %s", what, strings.TrimSpace(out.Stderr))}
	}
	return result(fabric.ParseList(out.Stdout))
}
