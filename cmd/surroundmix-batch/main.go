// Command surroundmix-batch separates a directory of tracks and exports
// every one with the default routing, without the mixer UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/satindergrewal/surroundmix/internal/audio"
	"github.com/satindergrewal/surroundmix/internal/batch"
	"github.com/satindergrewal/surroundmix/internal/config"
	"github.com/satindergrewal/surroundmix/internal/separator"
	"github.com/satindergrewal/surroundmix/internal/session"
)

func main() {
	cfg := config.Load()

	in := flag.String("in", "", "directory of source tracks (required)")
	out := flag.String("out", "", "directory for the surround FLAC files (required)")
	channels := flag.Int("channels", cfg.ChannelCount, "output layout: 5 (5.1) or 7 (7.1)")
	hwFlag := flag.String("hw", cfg.Hardware, "separation hardware: gpu | cpu")
	work := flag.String("work", cfg.WorkDir, "working directory for temp copies and stems")
	clean := flag.Bool("clean", false, "remove the working directory, including separated stems, when done")
	verbose := flag.Bool("v", false, "log every step instead of drawing progress bars")
	flag.Parse()

	if *in == "" || *out == "" {
		flag.Usage()
		os.Exit(2)
	}
	hw, err := separator.ParseHardwareMode(*hwFlag)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess := session.New(audio.NewFiles(cfg.FFmpegPath), *work)
	proc := batch.NewProcessor(sess, separator.NewStrategy(separator.Command{
		Python:     cfg.SeparatorPython,
		Script:     cfg.SeparatorScript,
		ModelType:  cfg.SeparatorModelType,
		ConfigPath: cfg.SeparatorConfigPath,
		Checkpoint: cfg.SeparatorCheckpoint,
	}), *work)

	var (
		p  *mpb.Progress
		bs *bars
	)
	if !*verbose {
		log.SetOutput(io.Discard)
		p = mpb.New(mpb.WithWidth(64))
		bs = newBars(p)
		proc.SetProgressFunc(bs.update)
	}

	err = proc.Run(ctx, batch.Request{InputDir: *in, OutputDir: *out, Hardware: hw, ChannelCount: *channels})
	if err != nil {
		if p != nil {
			bs.abort()
			p.Wait()
		}
		fmt.Fprintf(os.Stderr, "surroundmix-batch: %v\n", err)
		os.Exit(1)
	}

	failed := exportAll(sess, p)
	if p != nil {
		p.Wait()
	}

	for _, f := range sess.Progress().Failed {
		fmt.Fprintf(os.Stderr, "separation failed: %s\n", f)
		failed++
	}
	if *clean {
		if err := proc.Cleanup(true); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// exportAll exports every job one by one so the bar can advance per file.
func exportAll(sess *session.Session, p *mpb.Progress) int {
	jobs := sess.Info().Jobs
	var bar *mpb.Bar
	if p != nil && len(jobs) > 0 {
		bar = p.AddBar(int64(len(jobs)),
			mpb.PrependDecorators(
				decor.Name("Exporting: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.Elapsed(decor.ET_STYLE_GO),
			),
		)
	}

	failed := 0
	for _, j := range jobs {
		res, err := sess.ExportIndex(j.Index)
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(os.Stderr, "export failed: %s: %v\n", j.Name, err)
		case p == nil:
			fmt.Printf("%s: %s\n", res.Status, res.OutputPath)
		}
		if bar != nil {
			bar.Increment()
		}
	}
	return failed
}

// bars draws one bar for the batch and one per separation.
type bars struct {
	p     *mpb.Progress
	mu    sync.Mutex
	files *mpb.Bar
	sep   *mpb.Bar
}

func newBars(p *mpb.Progress) *bars {
	return &bars{p: p}
}

func (b *bars) update(u batch.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.files == nil {
		b.files = b.p.AddBar(int64(u.Total),
			mpb.PrependDecorators(
				decor.Name("Separating: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.Elapsed(decor.ET_STYLE_GO),
			),
		)
	}

	switch u.Stage {
	case batch.StageSeparate:
		if b.sep == nil {
			b.sep = b.p.AddBar(100,
				mpb.BarRemoveOnComplete(),
				mpb.PrependDecorators(decor.Name(u.File+" ")),
				mpb.AppendDecorators(decor.Percentage()),
			)
		}
		// The model reports several passes; hold below 100 until the file is done.
		b.sep.SetCurrent(int64(min(u.Percent, 99)))
	case batch.StageDone:
		b.finishSep(false)
		b.files.Increment()
	case batch.StageFailed:
		b.finishSep(true)
		b.files.Increment()
	case batch.StageSkipped:
		b.files.Increment()
	}
}

func (b *bars) finishSep(aborted bool) {
	if b.sep == nil {
		return
	}
	if aborted {
		b.sep.Abort(true)
	} else {
		b.sep.SetCurrent(100)
	}
	b.sep = nil
}

// abort drops unfinished bars so Wait can return after a fatal error.
func (b *bars) abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finishSep(true)
	if b.files != nil && !b.files.Completed() {
		b.files.Abort(false)
	}
}
