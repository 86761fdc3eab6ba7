// Package nlog is the engine's logger: a severity-gated, mutex-protected
// buffered writer with periodic flushing, in the style of aistore's
// internal logger but trimmed to what a library (not a daemon) needs --
// no log-directory rotation, no per-severity files.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/llnl/ygm/cmn/mono"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const maxLineSize = 2 * 1024

var (
	toStderr     bool
	alsoToStderr bool
	title        string

	mu       sync.Mutex
	out      io.Writer = os.Stderr
	buf                = make([]byte, 0, 64*1024)
	lastFlush          int64
)

// InitFlags registers the same two flags aistore's daemons expose, so a
// binary embedding the engine can opt into stderr-only logging the same way.
func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", true, "log to standard error instead of buffering")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as the buffer")
}

// SetOutput redirects the buffered sink (tests only; stderr mirroring via
// alsoToStderr/toStderr is unaffected).
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

func SetTitle(s string) { title = s }

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

// Flush writes out any buffered lines; exit=true also fsyncs when out is a
// file and is always called from engine teardown paths.
func Flush(exit ...bool) {
	mu.Lock()
	defer mu.Unlock()
	flushLocked()
	if len(exit) > 0 && exit[0] {
		if f, ok := out.(*os.File); ok {
			f.Sync()
		}
	}
}

func flushLocked() {
	if len(buf) == 0 {
		return
	}
	out.Write(buf)
	buf = buf[:0]
	lastFlush = mono.NanoTime()
}

func log(sev severity, depth int, format string, args ...any) {
	line := sprintf(sev, depth+1, format, args...)

	mu.Lock()
	defer mu.Unlock()

	if toStderr {
		os.Stderr.WriteString(line)
		return
	}
	if alsoToStderr || sev >= sevWarn {
		os.Stderr.WriteString(line)
	}
	buf = append(buf, line...)
	if len(buf) > cap(buf)-maxLineSize || mono.NanoTime()-lastFlush > int64(10*time.Second) {
		flushLocked()
	}
}

func sprintf(sev severity, depth int, format string, args ...any) string {
	const chars = "IWE"
	var sb strings.Builder
	sb.WriteByte(chars[sev])
	sb.WriteByte(' ')
	sb.WriteString(time.Now().Format("15:04:05.000000"))
	sb.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(2 + depth); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		sb.WriteString(fn)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(ln))
		sb.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&sb, args...)
	} else {
		fmt.Fprintf(&sb, format, args...)
		if !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
