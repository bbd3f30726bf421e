package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/source"
)

// DefaultSignalsPath is the signal file shared by emit and run.
const DefaultSignalsPath = "autokit.signals"

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Signals string
	Package string
	Title   string
	Text    string
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit <kind|action>",
		Short: "Append a raw signal to the signal file",
		Long: `Append one raw host signal to the signal file read by "autokit run".

The signal may be named by event kind (ScreenOn), host action
(android.intent.action.SCREEN_ON) or alias (screen_on). Notification signals
require --package.

Example:
  autokit emit ScreenOff
  autokit emit notification.posted --package com.example.chat --title Hi --text "new message"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return emitSignal(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Signals, "signals", DefaultSignalsPath, "signal file to append to")
	cmd.Flags().StringVar(&opts.Package, "package", "", "notification source package")
	cmd.Flags().StringVar(&opts.Title, "title", "", "notification title")
	cmd.Flags().StringVar(&opts.Text, "text", "", "notification text")

	return cmd
}

func emitSignal(cmd *cobra.Command, opts *EmitOptions, name string) error {
	formatter := opts.formatter(cmd)

	kind, ok := source.KindForAction(name)
	if !ok {
		err := fmt.Errorf("unknown signal %q", name)
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid signal", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = model.SystemClock{}
	}
	raw := model.RawSignal{
		Action:    source.ActionForKind(kind),
		Package:   opts.Package,
		Title:     opts.Title,
		Text:      opts.Text,
		Timestamp: clock.Now().UTC(),
	}
	if _, err := source.Normalize(raw); err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid signal", err)
	}

	if err := source.AppendSignal(opts.Signals, raw); err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to append signal", err)
	}
	formatter.VerboseLog("appended %s to %s", raw.Action, opts.Signals)
	if formatter.Format == "json" {
		return formatter.Success(raw)
	}
	return formatter.Success(string(kind))
}
