// Package progress reports transfer progress on the terminal.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/yuya-takeyama/s3smart/pkg/transfer"
)

// Bar tracks bytes and files for one command. It is also the ProgressSink
// handed to the transfer engine.
type Bar interface {
	transfer.ProgressSink
	Start()
	Finish()
	AddTotalBytes(n int64)
	IncrementTotalFiles()
	IncrementCompletedFiles()
}

// NoOp discards all progress.
type NoOp struct{}

func (NoOp) Advance(int64)            {}
func (NoOp) Start()                   {}
func (NoOp) Finish()                  {}
func (NoOp) AddTotalBytes(int64)      {}
func (NoOp) IncrementTotalFiles()     {}
func (NoOp) IncrementCompletedFiles() {}

const template = `{{percent . | green}} {{bar . " " "━" "━" "─" " " | green}} {{counters . | green}} {{speed . "(%s/s)" | red}} {{rtime . "%s left" | blue}} {{ string . "files" | yellow}}`

// CommandBar renders a byte progress bar with a file counter.
type CommandBar struct {
	mu             sync.Mutex
	totalFiles     int64
	completedFiles int64
	totalBytes     int64
	bar            *pb.ProgressBar
}

var _ Bar = (*CommandBar)(nil)

// NewCommandBar creates a bar writing to w.
func NewCommandBar(w io.Writer) *CommandBar {
	bar := pb.New64(0)
	bar.Set(pb.Bytes, true)
	bar.SetWidth(100)
	bar.SetTemplateString(template)
	bar.SetWriter(w)
	bar.Set("files", "(0/0)")
	return &CommandBar{bar: bar}
}

func (b *CommandBar) Start() {
	b.bar.Start()
}

func (b *CommandBar) Finish() {
	b.bar.Finish()
}

// Advance adds n transferred bytes. Safe for concurrent use.
func (b *CommandBar) Advance(n int64) {
	b.bar.Add64(n)
}

func (b *CommandBar) AddTotalBytes(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalBytes += n
	b.bar.SetTotal(b.totalBytes)
}

func (b *CommandBar) IncrementTotalFiles() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalFiles++
	b.updateFiles()
}

func (b *CommandBar) IncrementCompletedFiles() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completedFiles++
	b.updateFiles()
}

func (b *CommandBar) updateFiles() {
	b.bar.Set("files", fmt.Sprintf("(%d/%d)", b.completedFiles, b.totalFiles))
}

// New returns a CommandBar on w, or NoOp when quiet.
func New(w io.Writer, quiet bool) Bar {
	if quiet {
		return NoOp{}
	}
	return NewCommandBar(w)
}
