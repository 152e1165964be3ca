package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/process"
)

// HostInfo identifies the process entries originate from. It is resolved
// once and then treated as constant.
type HostInfo struct {
	MachineName string
	ProcessName string
	ProcessID   int
}

// ResolveHostInfo captures the identity of the current process.
func ResolveHostInfo() HostInfo {
	machine, err := os.Hostname()
	if err != nil {
		machine = "unknown"
	}
	return HostInfo{
		MachineName: machine,
		ProcessName: currentProcessName(),
		ProcessID:   os.Getpid(),
	}
}

// Introspector supplies per-call context the host does not pass in.
type Introspector interface {
	// ThreadID identifies the calling goroutine.
	ThreadID() string
	// StackTrace renders the caller's stack, skipping skip frames above the
	// function that calls StackTrace.
	StackTrace(skip int) string
	// ProcessName resolves the name of the process with the given id.
	ProcessName(pid int) string
}

// NewRuntimeIntrospector returns the Introspector backed by the Go runtime.
func NewRuntimeIntrospector(host HostInfo) Introspector {
	return &runtimeIntrospector{host: host}
}

type runtimeIntrospector struct {
	host HostInfo
}

var goroutinePrefix = []byte("goroutine ")

// ThreadID returns the current goroutine id, parsed from the first line of
// runtime.Stack ("goroutine 18 [running]:").
func (r *runtimeIntrospector) ThreadID() string {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, goroutinePrefix)
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		return string(buf[:i])
	}
	return "0"
}

func (r *runtimeIntrospector) StackTrace(skip int) string {
	pcs := make([]uintptr, 64)
	// +2 skips runtime.Callers and this method.
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}

	var sb strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		sb.WriteString("   at ")
		sb.WriteString(frame.Function)
		sb.WriteString(" in ")
		sb.WriteString(frame.File)
		sb.WriteString(":line ")
		sb.WriteString(strconv.Itoa(frame.Line))
		if !more {
			break
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (r *runtimeIntrospector) ProcessName(pid int) string {
	if pid == r.host.ProcessID {
		return r.host.ProcessName
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ""
	}
	name, err := p.Name()
	if err != nil {
		return ""
	}
	return name
}

func currentProcessName() string {
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if name, err := p.Name(); err == nil && name != "" {
			return name
		}
	}
	return filepath.Base(os.Args[0])
}
