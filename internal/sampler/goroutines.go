package sampler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/maruel/panicparse/v2/stack"
)

// Source produces one round of thread samples.
type Source interface {
	Sample() ([]ThreadInfo, error)
}

// GoroutineFrameType is the frame type recorded for Go frames.
const GoroutineFrameType = "Go"

var goroutineGroup = &ThreadGroupInfo{Name: "goroutines"}

// GoroutineSource samples every goroutine of the current process from a
// runtime.Stack dump.
type GoroutineSource struct {
	Clock func() time.Time
	buf   []byte
}

func (s *GoroutineSource) Sample() ([]ThreadInfo, error) {
	if s.buf == nil {
		s.buf = make([]byte, 64<<10)
	}
	for {
		n := runtime.Stack(s.buf, true)
		if n < len(s.buf) {
			now := time.Now()
			if s.Clock != nil {
				now = s.Clock()
			}
			return ParseGoroutineDump(s.buf[:n], now)
		}
		s.buf = make([]byte, 2*len(s.buf))
	}
}

// ParseGoroutineDump converts the text written by runtime.Stack(buf, true)
// into thread samples taken at now. Goroutine IDs become thread IDs and the
// bracketed status becomes the state. Creation sites are not frames.
func ParseGoroutineDump(dump []byte, now time.Time) ([]ThreadInfo, error) {
	snap, _, err := stack.ScanSnapshot(bytes.NewReader(dump), io.Discard, &stack.Opts{})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("sampler: parse goroutine dump: %w", err)
	}
	if snap == nil {
		return nil, nil
	}

	out := make([]ThreadInfo, 0, len(snap.Goroutines))
	for _, g := range snap.Goroutines {
		ti := ThreadInfo{
			ID:        int64(g.ID),
			Name:      fmt.Sprintf("goroutine %d", g.ID),
			State:     g.State,
			Group:     goroutineGroup,
			Truncated: g.Stack.Elided,
			Time:      now,
			Frames:    make([]FrameInfo, 0, len(g.Stack.Calls)),
		}
		for _, c := range g.Stack.Calls {
			ti.Frames = append(ti.Frames, goFrame(c))
		}
		out = append(out, ti)
	}
	return out, nil
}

func goFrame(c stack.Call) FrameInfo {
	pkg, class, method := splitFuncName(c.Func.Complete)
	if c.Func.ImportPath != "" {
		pkg = c.Func.ImportPath
	}
	return FrameInfo{
		Package:    pkg,
		Class:      class,
		Method:     method,
		Descriptor: c.RemoteSrcPath,
		Line:       int32(c.Line),
		Type:       GoroutineFrameType,
	}
}

// splitFuncName splits a qualified Go function name such as
// "github.com/acme/app.(*Server).Serve" into its import path, a class name
// (the receiver type, or the package for plain functions) and the method.
func splitFuncName(fn string) (pkg, class, method string) {
	dir := ""
	base := fn
	if i := strings.LastIndexByte(fn, '/'); i >= 0 {
		dir, base = fn[:i+1], fn[i+1:]
	}
	dot := strings.IndexByte(base, '.')
	if dot < 0 {
		return fn, fn, fn
	}
	pkg = dir + base[:dot]
	rest := base[dot+1:]
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		recv := strings.TrimSuffix(strings.TrimPrefix(rest[:i], "(*"), ")")
		return pkg, pkg + "." + recv, rest[i+1:]
	}
	return pkg, pkg, rest
}
