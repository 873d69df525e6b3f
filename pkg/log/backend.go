// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"strings"
)

// Backend formats and emits the log lines a subset, manager or
// dispatcher component produces through its own Logger handle.
type Backend interface {
	// Name identifies this backend.
	Name() string
	// Log emits a single line at the given severity, tagged with the
	// source component name.
	Log(Level, string, string, ...interface{})
	// Block emits a multi-line message, each line carrying prefix.
	Block(Level, string, string, string, ...interface{})
	// Flush drains any buffered lines synchronously.
	Flush()
	// Sync blocks until every line queued so far has been emitted.
	Sync()
	// Stop shuts the backend down.
	Stop()
	// SetSourceAlignment sets the column width component names are padded to.
	SetSourceAlignment(int)
}

// BackendFn constructs a Backend instance.
type BackendFn func() Backend

// RegisterBackend makes a named backend available to selectDefault.
func RegisterBackend(name string, fn BackendFn) {
	log.backend[name] = fn
}

const (
	// ConsoleBackendName is the stdout backend every component gets
	// unless something else registers itself first.
	ConsoleBackendName = "console"
	// consoleQueueDepth bounds the console backend's pending-line queue.
	consoleQueueDepth = 1024
)

const (
	levelNop Level = iota + levelHighest
	levelStop
)

// consoleTags prefixes an emitted line by its severity.
var consoleTags = map[Level]string{
	LevelDebug: "D: ",
	LevelInfo:  "I: ",
	LevelWarn:  "W: ",
	LevelError: "E: ",
	LevelFatal: "FATAL ERROR: ",
	LevelPanic: "PANIC: ",
}

// consoleBackend is the default Backend: a single goroutine owns
// os.Stdout and serializes every line through a channel so concurrent
// subsets/managers logging from their own goroutines never interleave
// partial lines.
type consoleBackend struct {
	lines chan *consoleLine
	align int
}

// consoleLine is one queued request for the console goroutine.
type consoleLine struct {
	level  Level
	source string
	prefix string
	msg    string
	done   chan struct{}
	flush  bool
}

func newConsoleBackend() Backend {
	c := &consoleBackend{
		lines: make(chan *consoleLine, consoleQueueDepth),
	}
	go c.drain()
	return c
}

func (*consoleBackend) Name() string {
	return ConsoleBackendName
}

func (c *consoleBackend) Log(level Level, source, format string, args ...interface{}) {
	c.enqueue(level, source, "", format, args...)
}

func (c *consoleBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	c.enqueue(level, source, prefix, format, args...)
}

func (c *consoleBackend) Flush() {
	c.waitFor(&consoleLine{level: levelNop, flush: true})
}

func (c *consoleBackend) Sync() {
	c.waitFor(&consoleLine{level: levelNop})
}

func (c *consoleBackend) Stop() {
	c.waitFor(&consoleLine{level: levelStop})
}

func (c *consoleBackend) waitFor(l *consoleLine) {
	l.done = make(chan struct{})
	c.lines <- l
	<-l.done
	close(l.done)
}

func (c *consoleBackend) SetSourceAlignment(width int) {
	c.align = width
}

// enqueue builds and submits a line. Lines at error level and above
// request a flush of the buffered backlog; only levels above error
// (fatal, panic) also block the caller until the line has reached the
// console.
func (c *consoleBackend) enqueue(level Level, source, prefix, format string, args ...interface{}) {
	l := &consoleLine{
		level:  level,
		source: source,
		prefix: prefix,
		msg:    fmt.Sprintf(format, args...),
		flush:  level >= LevelError,
	}
	if level > LevelError {
		l.done = make(chan struct{})
	}
	c.lines <- l
	if l.done != nil {
		<-l.done
		close(l.done)
	}
}

// drain is the console goroutine's body: it buffers lines until either
// the buffer fills or a caller asks for a flush, at which point it
// writes the whole backlog out in order. After that first flush the
// buffer is dropped and every later line is written as it arrives.
func (c *consoleBackend) drain() {
	buf := make([]*consoleLine, 0, consoleQueueDepth)

	for l := range c.lines {
		switch {
		case buf == nil:
			c.write(l)
		case l.flush || len(buf) == cap(buf):
			for _, pending := range buf {
				c.write(pending)
			}
			c.write(l)
			buf = nil
		default:
			buf = append(buf, l)
		}

		if l.done != nil {
			l.done <- struct{}{}
		}
		if l.level == levelStop {
			return
		}
	}
}

// write formats and prints a single queued line.
func (c *consoleBackend) write(l *consoleLine) {
	if l.level > levelHighest {
		return
	}
	pad := c.align - len(l.source)
	lead := pad / 2
	trail := pad - lead
	tag := "[" + strings.Repeat(" ", max(lead, 0)) + l.source + strings.Repeat(" ", max(trail, 0)) + "]"

	for _, line := range strings.Split(l.msg, "\n") {
		if l.prefix == "" {
			fmt.Println(consoleTags[l.level], tag, line)
		} else {
			fmt.Println(consoleTags[l.level], tag, l.prefix, line)
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func init() {
	RegisterBackend(ConsoleBackendName, newConsoleBackend)
}
