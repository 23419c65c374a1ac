package log

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
)

// implemented by internal/xerrors wrappers
type hasPC interface{ PC() uintptr }
type hasStack interface{ StackPCs() []uintptr }

// errorAttrs describes err: the error itself, its surface and root types, every distinct
// message in the chain, and up to maxLinks source positions
func errorAttrs(err error, maxLinks int) []slog.Attr {
	surface, root := classifyTypes(err)
	attrs := []slog.Attr{
		slog.Any("err", err),
		slog.String("error_type", surface),
		slog.String("cause_type", root),
	}
	if chain := errorChain(err); len(chain) > 1 {
		attrs = append(attrs, slog.Any("error_chain", chain))
	}
	if maxLinks > 0 {
		if links := chainLinks(err, maxLinks); len(links) > 0 {
			attrs = append(attrs, slog.Any("error_links", links))
		}
	}
	return attrs
}

// errorChain lists messages from outermost to innermost, skipping consecutive duplicates
// (a stack wrapper repeats its cause's message). Joined errors contribute each member.
func errorChain(err error) []string {
	var out []string
	add := func(s string) {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
		if j, ok := e.(interface{ Unwrap() []error }); ok {
			for _, m := range j.Unwrap() {
				if m != nil {
					add(m.Error())
				}
			}
		}
	}
	return out
}

type errorLink struct {
	Msg  string `json:"msg"`
	Func string `json:"func,omitempty"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// chainLinks returns the outermost error plus every wrapper that recorded where it was created
func chainLinks(err error, max int) []errorLink {
	var out []errorLink
	for depth, e := 0, err; e != nil && len(out) < max; depth, e = depth+1, errors.Unwrap(e) {
		link := errorLink{Msg: e.Error()}
		var fr runtime.Frame
		switch v := e.(type) {
		case hasPC:
			fr = frameAt(v.PC())
		case hasStack:
			fr = firstAppFrame(v.StackPCs())
		}
		if fr.Function != "" {
			link.Func, link.File, link.Line = fr.Function, fr.File, fr.Line
		} else if depth > 0 {
			continue
		}
		out = append(out, link)
	}
	return out
}

// classifyTypes returns the first non-wrapper type in the chain and the innermost type
func classifyTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		root = fmt.Sprintf("%T", e)
		if surface != "" {
			continue
		}
		t := reflect.TypeOf(e)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if strings.HasSuffix(t.PkgPath(), "/internal/xerrors") || (t.PkgPath() == "fmt" && t.Name() == "wrapError") {
			continue
		}
		surface = fmt.Sprintf("%T", e)
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	return surface, root
}

func callers(skip int) []uintptr {
	pcs := make([]uintptr, 64)
	return pcs[:runtime.Callers(skip, pcs)]
}

// plumbing frames are dropped from the top of rendered stacks
func isPlumbing(fn string) bool {
	if strings.HasPrefix(fn, "runtime.") || strings.HasPrefix(fn, "log/slog.") || strings.Contains(fn, "/internal/xerrors.") {
		return true
	}
	for _, p := range []string{"/internal/log.(*slogLogger)", "/internal/log.stackHandler", "/internal/log.traceHandler", "/internal/log.callers"} {
		if strings.Contains(fn, p) {
			return true
		}
	}
	return false
}

// renderStack formats pcs as "func\n\tfile:line" pairs, starting at the first non-plumbing
// frame and stopping when it reaches the runtime again
func renderStack(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	var b strings.Builder
	started := false
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if started && strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !started && !isPlumbing(fr.Function) {
			started = true
		}
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

func frameAt(pc uintptr) runtime.Frame {
	if pc == 0 {
		return runtime.Frame{}
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr
}

func firstAppFrame(pcs []uintptr) runtime.Frame {
	if len(pcs) == 0 {
		return runtime.Frame{}
	}
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if !isPlumbing(fr.Function) {
			return fr
		}
		if !more {
			return runtime.Frame{}
		}
	}
}
