package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"novel-ai-proxy/internal/prompts"
	"novel-ai-proxy/pkg/editor"
	"novel-ai-proxy/pkg/utils"
)

type editOptions struct {
	server      string
	command     string
	instruction string
	refine      string
	mode        string
	from, to    int
	write       bool
	quiet       bool
}

func newEditCmd(root *rootOptions) *cobra.Command {
	opts := &editOptions{}

	cmd := &cobra.Command{
		Use:   "edit <file>",
		Short: "Run a command on part of a file",
		Long: `Run one command against a running server and apply the completion.

The selection defaults to the whole file. The completion streams to stderr
while it arrives; the edited document goes to stdout, or back to the file
with --write. Ctrl-C cancels the request and keeps the file unchanged.

Examples:
  novelai edit chapter1.md --command improve --from 120 --to 480
  novelai edit chapter1.md --command continue --from 900 --to 1000 --mode insert --write
  novelai edit notes.md --command zap -i "rewrite as a poem" --refine "make it rhyme"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := root.config()
			if err != nil {
				return err
			}
			return runEdit(cmd.Context(), args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "base URL of a running server")
	cmd.Flags().StringVarP(&opts.command, "command", "c", "", "command to run (see 'novelai commands')")
	cmd.Flags().StringVarP(&opts.instruction, "instruction", "i", "", "free-text instruction (zap, add_*)")
	cmd.Flags().StringVar(&opts.refine, "refine", "", "apply this instruction to the completion before committing")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "replace", "replace, insert or discard")
	cmd.Flags().IntVar(&opts.from, "from", 0, "selection start (rune offset)")
	cmd.Flags().IntVar(&opts.to, "to", -1, "selection end (rune offset, default end of file)")
	cmd.Flags().BoolVarP(&opts.write, "write", "w", false, "write the result back to the file")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not stream the completion to stderr")
	cmd.MarkFlagRequired("command")
	return cmd
}

// livePreview echoes chunks as they arrive, coloured on a terminal.
type livePreview struct {
	w io.Writer
	c *color.Color
}

func newLivePreview(w io.Writer) *livePreview {
	c := color.New(color.FgGreen)
	if !utils.IsTerminal(w) {
		c.DisableColor()
	}
	return &livePreview{w: w, c: c}
}

func (p *livePreview) chunk(_ *editor.Session, chunk string) {
	p.c.Fprint(p.w, chunk)
}

func runEdit(ctx context.Context, path string, opts *editOptions, stdout, stderr io.Writer, logger *logrus.Logger) error {
	command, err := prompts.ParseCommand(opts.command)
	if err != nil {
		return err
	}
	mode, err := editor.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	doc := editor.NewDocument(string(data))
	sel := editor.Selection{From: opts.from, To: opts.to}
	if sel.To < 0 {
		sel.To = doc.Len()
	}

	ctrlOpts := []editor.ControllerOption{editor.WithLogger(logrus.NewEntry(logger))}
	if !opts.quiet {
		ctrlOpts = append(ctrlOpts, editor.WithChunkObserver(newLivePreview(stderr).chunk))
	}
	ctrl := editor.NewController(doc, editor.NewClient(opts.server), ctrlOpts...)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := ctrl.Start(ctx, command, sel, opts.instruction)
	if err != nil {
		return err
	}
	if err := awaitSession(sigCtx, ctrl, s, stderr); err != nil {
		return err
	}

	if opts.refine != "" {
		if s, err = ctrl.Refine(ctx, opts.refine); err != nil {
			return err
		}
		if err := awaitSession(sigCtx, ctrl, s, stderr); err != nil {
			return err
		}
	}

	if err := ctrl.Commit(mode); err != nil {
		return err
	}
	if mode == editor.ModeDiscard {
		fmt.Fprintln(stderr, color.YellowString("completion discarded"))
		return nil
	}

	if opts.write {
		if err := os.WriteFile(path, []byte(doc.Text()), info.Mode().Perm()); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "%s wrote %s\n", color.GreenString("✓"), path)
		return nil
	}
	_, err = io.WriteString(stdout, doc.Text())
	return err
}

// awaitSession waits for s, closing the controller if sigCtx ends first.
func awaitSession(sigCtx context.Context, ctrl *editor.Controller, s *editor.Session, stderr io.Writer) error {
	select {
	case <-s.Done():
	case <-sigCtx.Done():
		ctrl.Close()
		<-s.Done()
	}
	fmt.Fprintln(stderr)

	switch s.State() {
	case editor.StateCompleted:
		if !editor.CanApply(s) {
			return editor.ErrEmptyCompletion
		}
		return nil
	case editor.StateCancelled:
		fmt.Fprintf(stderr, "%s cancelled after %d characters; file left unchanged\n",
			color.YellowString("!"), len([]rune(s.Text())))
		return s.Err()
	default:
		err := s.Err()
		var rl *editor.RateLimitError
		if errors.As(err, &rl) {
			fmt.Fprintf(stderr, "%s %s\n", color.RedString("✗"), rl.Message)
			fmt.Fprintf(stderr, "  limit %d, resets %s\n", rl.Limit, rl.Reset.Local().Format("Mon 15:04"))
		}
		return err
	}
}
