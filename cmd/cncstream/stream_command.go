package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/arloliu/go-cnc/controller"
	"github.com/arloliu/go-cnc/event"
	"github.com/arloliu/go-cnc/journal"
	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/promexport"
	"github.com/arloliu/go-cnc/stream"
	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type streamOptions struct {
	policy      string
	metrics     string
	noJournal   bool
	noProgress  bool
	cancelGrace time.Duration
}

func newStreamCommand(ctx *commandContext) *cobra.Command {
	var opts streamOptions

	cmd := &cobra.Command{
		Use:   "stream <file|->",
		Short: "Stream a G-code program to the controller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, ctx, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.policy, "on-error", "", "Error policy: continue or stop (default from config)")
	cmd.Flags().StringVar(&opts.metrics, "metrics", "", "Serve Prometheus metrics on this address while streaming")
	cmd.Flags().BoolVar(&opts.noJournal, "no-journal", false, "Do not record the run in the journal")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Print plain progress lines instead of a progress bar")
	cmd.Flags().DurationVar(&opts.cancelGrace, "cancel-grace", 5*time.Second, "How long to wait for the controller after Ctrl+C")
	return cmd
}

func runStream(cmd *cobra.Command, ctx *commandContext, source string, opts streamOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	program, name, err := readProgram(cmd.InOrStdin(), source)
	if err != nil {
		return err
	}
	if len(stream.Prepare(program)) == 0 {
		return fmt.Errorf("%s: %w", name, stream.ErrEmptyProgram)
	}

	policyName := cfg.Controller.ErrorPolicy
	if opts.policy != "" {
		policyName = opts.policy
	}
	policy, err := stream.ParseErrorPolicy(policyName)
	if err != nil {
		return err
	}

	ctl, tcfg, err := ctx.newController(cmd)
	if err != nil {
		return err
	}
	defer ctl.Close()

	l := ctx.logger(cmd.ErrOrStderr())
	out := cmd.OutOrStdout()

	if cfg.Journal.Enabled && !opts.noJournal {
		store, err := journal.Open(cmd.Context(), cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		rec := journal.NewRecorder(store, l)
		rec.SetProgram(name)
		h := ctl.RegisterListener(rec.Listener())
		defer rec.Close()
		defer ctl.UnregisterListener(h)
	}

	final := make(chan event.Event, 1)
	ctl.RegisterListener(func(ev event.Event) {
		switch ev.(type) {
		case event.StreamingComplete, event.StreamingCancelled:
			select {
			case final <- ev:
			default:
			}
		}
	})

	view := newProgressView(out, name, !opts.noProgress && isTerminal(out))
	progressFeed := event.NewBuffered(view.handle, 1024)
	h := ctl.RegisterListener(progressFeed.Listener())
	var result event.Event
	defer func() {
		ctl.UnregisterListener(h)
		progressFeed.Close()
		view.finish(result)
	}()

	if err := ctx.dial(cmd, ctl, tcfg); err != nil {
		return err
	}

	metricsAddr := cfg.Metrics.Listen
	if opts.metrics != "" {
		metricsAddr = opts.metrics
	}
	if metricsAddr != "" {
		stop, err := serveMetrics(metricsAddr, ctl, cfg.Metrics.Machine, l)
		if err != nil {
			return err
		}
		defer stop()
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving metrics on %s/metrics\n", metricsAddr)
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobID, err := ctl.StartStream(program, policy)
	if err != nil {
		return err
	}
	l.Debug("streaming", "job", jobID, "program", name)

	select {
	case result = <-final:
	case <-runCtx.Done():
		fmt.Fprintln(cmd.ErrOrStderr(), "Cancelling")
		if err := ctl.Cancel(); err != nil {
			l.Warn("cancel failed", "error", err)
		}
		select {
		case result = <-final:
		case <-time.After(opts.cancelGrace):
		}
	}

	switch e := result.(type) {
	case event.StreamingComplete:
		fmt.Fprintf(out, "%s: %d lines in %s, %d errors\n", name, e.Sent, e.Duration.Round(time.Millisecond), e.Errors)
		if e.Stopped {
			return fmt.Errorf("%s: stopped after a rejected line", name)
		}
		if e.Errors > 0 {
			return fmt.Errorf("%s: %d lines rejected", name, e.Errors)
		}
		return nil
	case event.StreamingCancelled:
		reason := e.Reason
		if reason == nil {
			reason = stream.ErrCancelled
		}
		return fmt.Errorf("%s: cancelled after %d lines: %w", name, e.Sent, reason)
	default:
		return fmt.Errorf("%s: %w", name, context.Canceled)
	}
}

func readProgram(stdin io.Reader, source string) (lines []string, name string, err error) {
	if source == "-" {
		lines, err = stream.ReadProgram(stdin)
		if err != nil {
			return nil, "", fmt.Errorf("read program: %w", err)
		}
		return lines, "stdin", nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, "", fmt.Errorf("open program: %w", err)
	}
	defer f.Close()

	lines, err = stream.ReadProgram(f)
	if err != nil {
		return nil, "", fmt.Errorf("read program %s: %w", source, err)
	}

	return lines, filepath.Base(source), nil
}

// serveMetrics exposes the controller metrics over HTTP until the returned stop is called.
func serveMetrics(addr string, ctl *controller.Controller, machineName string, l logger.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	if _, err := promexport.Register(reg, ctl, prometheus.Labels{"machine": machineName}); err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promexport.Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Warn("metrics server stopped", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

// progressView renders job progress as a bar on terminals and as lines elsewhere.
type progressView struct {
	out      io.Writer
	name     string
	pw       progress.Writer
	tracker  *progress.Tracker
	lastStep int
}

func newProgressView(out io.Writer, name string, bar bool) *progressView {
	v := &progressView{out: out, name: name, lastStep: -1}
	if !bar {
		return v
	}

	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(40)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Value = true
	v.pw = pw
	go pw.Render()

	return v
}

// handle runs on the buffered listener goroutine.
func (v *progressView) handle(ev event.Event) {
	switch e := ev.(type) {
	case event.StreamingStarted:
		if v.pw != nil {
			v.tracker = &progress.Tracker{Message: v.name, Total: int64(e.Total), Units: progress.UnitsDefault}
			v.pw.AppendTracker(v.tracker)
		}
	case event.StreamingProgress:
		if v.tracker != nil {
			v.tracker.SetValue(int64(e.Sent))
			return
		}
		if e.Total == 0 {
			return
		}
		step := e.Sent * 10 / e.Total
		if step != v.lastStep {
			v.lastStep = step
			fmt.Fprintf(v.out, "%s: %d/%d lines (%d%%)\n", v.name, e.Sent, e.Total, e.Sent*100/e.Total)
		}
	case event.StreamingError:
		msg := fmt.Sprintf("line %d: error %d %s", e.Line, e.Code, e.Message)
		if v.pw != nil {
			v.pw.Log("%s", msg)
			return
		}
		fmt.Fprintln(v.out, msg)
	case event.AlarmRaised:
		msg := fmt.Sprintf("ALARM %d %s", e.Alarm.Code, e.Alarm.Description)
		if v.pw != nil {
			v.pw.Log("%s", msg)
			return
		}
		fmt.Fprintln(v.out, msg)
	}
}

// finish closes the bar according to the final event, nil when the job did not end.
func (v *progressView) finish(result event.Event) {
	if v.tracker != nil {
		switch e := result.(type) {
		case event.StreamingComplete:
			if e.Errors > 0 {
				v.tracker.MarkAsErrored()
			} else {
				v.tracker.MarkAsDone()
			}
		default:
			v.tracker.MarkAsErrored()
		}
	}
	v.stop()
}

func (v *progressView) stop() {
	if v.pw == nil {
		return
	}
	// let the renderer draw the final state
	time.Sleep(150 * time.Millisecond)
	v.pw.Stop()
	for v.pw.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}
