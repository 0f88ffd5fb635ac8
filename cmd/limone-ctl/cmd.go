package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"limone/internal/ipc"
)

type options struct {
	socket string
	json   bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "limone-ctl",
		Short:         "Control a running limone-daemon",
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return send(cmd, opts, ipc.CmdTrigger, nil)
		},
	}
	root.PersistentFlags().StringVarP(&opts.socket, "socket", "s", ipc.DefaultSocketPath, "Control socket path")
	root.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "Print the raw reply")

	root.AddCommand(
		simpleCmd(opts, ipc.CmdTrigger, "Start listening, or cancel if already listening", cobra.NoArgs),
		simpleCmd(opts, ipc.CmdStop, "Cancel the current capture", cobra.NoArgs),
		simpleCmd(opts, ipc.CmdQuick+" <command...>", "Run a command without speaking it", cobra.MinimumNArgs(1)),
		simpleCmd(opts, ipc.CmdReplay+" <task-id>", "Run a task from the history again", cobra.ExactArgs(1)),
		simpleCmd(opts, ipc.CmdHistory, "List recent tasks", cobra.NoArgs),
		simpleCmd(opts, ipc.CmdStatus, "Show state and backend connectivity", cobra.NoArgs),
		simpleCmd(opts, ipc.CmdHush, "Stop speaking", cobra.NoArgs),
		feedbackCmd(opts),
		simpleCmd(opts, ipc.CmdInsights, "Show usage insights", cobra.NoArgs),
	)

	return root
}

func feedbackCmd(opts *options) *cobra.Command {
	var command string

	cmd := &cobra.Command{
		Use:   ipc.CmdFeedback + " <1-5> [comment...]",
		Short: "Rate the assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, opts, ipc.CmdFeedback, ipc.FeedbackArgs(command, args))
		},
	}
	cmd.Flags().StringVarP(&command, ipc.FlagCommand, "c", "", "Command the rating refers to")

	return cmd
}

func simpleCmd(opts *options, use, short string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, opts, cmd.Name(), args)
		},
	}
}

func send(cmd *cobra.Command, opts *options, name string, args []string) error {
	reply, err := ipc.SendCommand(opts.socket, ipc.ControlMessage{Cmd: name, Args: args})
	if err != nil {
		return fmt.Errorf("limone-daemon not running: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reply); err != nil {
			return err
		}
	} else if reply.OK {
		fmt.Fprintln(out, render(name, reply))
	}

	if !reply.OK {
		return errors.New(reply.Error)
	}
	return nil
}
