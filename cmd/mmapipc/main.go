// Command mmapipc is a small operator CLI around the ipc package: send one
// message, receive one message, or reset a file left behind by a crashed
// peer (SPEC_FULL.md §13).
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mmapipc.dev/ipc"
	"mmapipc.dev/ipc/internal/cliconfig"
)

// globalFlags mirrors the --config/--payload-size/--debug flags shared by
// every subcommand (§11, §13). CLI flags take precedence over the optional
// config file; the file itself is entirely optional.
type globalFlags struct {
	configPath  string
	payloadSize uint32
	debug       bool
}

func main() {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "mmapipc",
		Short: "Send and receive messages over a shared-memory mmap IPC file",
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to an optional YAML config file")
	root.PersistentFlags().Uint32Var(&flags.payloadSize, "payload-size", ipc.DefaultPayloadSize, "per-ring payload capacity in bytes")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable development-mode logging")

	root.AddCommand(newSendCmd(flags), newRecvCmd(flags), newResetCmd(flags))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mmapipc: %v\n", classify(err))
		os.Exit(1)
	}
}

// classify prefixes recognizable sentinel errors so the failure mode is
// obvious without a stack trace (§7, §13).
func classify(err error) string {
	switch {
	case errors.Is(err, ipc.ErrTimeout):
		return fmt.Sprintf("timed out: %v", err)
	case errors.Is(err, ipc.ErrInUse):
		return fmt.Sprintf("file already has two attached endpoints: %v", err)
	case errors.Is(err, ipc.ErrBadMagic):
		return fmt.Sprintf("file has an incompatible header: %v", err)
	default:
		return err.Error()
	}
}

// resolvedConfig is the config-file-then-flag/arg merge shared by every
// subcommand (§11).
type resolvedConfig struct {
	payloadSize uint32
	debug       bool
	path        string
}

// resolveConfig applies config-file-then-flag precedence for payload-size
// and debug (the flag wins whenever it was explicitly set), and surfaces the
// config file's path field for callers to fall back on when no positional
// file argument was given.
func resolveConfig(flags *globalFlags, cmd *cobra.Command) (resolvedConfig, error) {
	rc := resolvedConfig{
		payloadSize: flags.payloadSize,
		debug:       flags.debug,
	}

	if flags.configPath != "" {
		f, err := cliconfig.Load(flags.configPath)
		if err != nil {
			return resolvedConfig{}, err
		}
		if f.PayloadSize != 0 && !cmd.Flags().Changed("payload-size") {
			rc.payloadSize = f.PayloadSize
		}
		if f.Debug && !cmd.Flags().Changed("debug") {
			rc.debug = true
		}
		rc.path = f.Path
	}
	return rc, nil
}

// resolveFilePath picks the backing mmap file: the positional argument when
// given, otherwise the config file's path field (§11). It is an error for
// both to be empty.
func resolveFilePath(positional, configPath string) (string, error) {
	if positional != "" {
		return positional, nil
	}
	if configPath != "" {
		return configPath, nil
	}
	return "", fmt.Errorf("no file given: pass it as an argument or set path in --config")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newSendCmd(flags *globalFlags) *cobra.Command {
	var blocking bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "send [file] <message>",
		Short: "Send one message",
		Long:  "Send one message. The file may be omitted as an argument if --config sets path.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := resolveConfig(flags, cmd)
			if err != nil {
				return err
			}

			var file, message string
			if len(args) == 2 {
				file, message = args[0], args[1]
			} else {
				message = args[0]
			}
			file, err = resolveFilePath(file, rc.path)
			if err != nil {
				return err
			}

			logger, err := newLogger(rc.debug)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync()

			ep, err := ipc.Open(file, ipc.WithPayloadSize(rc.payloadSize), ipc.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			defer ep.Close()

			var dl *time.Duration
			if blocking && timeout > 0 {
				dl = &timeout
			}

			n, err := ep.Send([]byte(message), blocking, dl)
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			if n == 0 && !blocking && len(message) > 0 {
				return fmt.Errorf("send: ring full, message not sent")
			}
			fmt.Printf("sent %d bytes as role %s\n", n, ep.Role())
			return nil
		},
	}
	cmd.Flags().BoolVar(&blocking, "blocking", false, "wait for free space instead of failing immediately")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wall-clock deadline for a blocking send (0 waits forever)")
	return cmd
}

func newRecvCmd(flags *globalFlags) *cobra.Command {
	var blocking bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "recv [file]",
		Short: "Receive one message",
		Long:  "Receive one message. The file may be omitted as an argument if --config sets path.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := resolveConfig(flags, cmd)
			if err != nil {
				return err
			}

			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			file, err := resolveFilePath(arg, rc.path)
			if err != nil {
				return err
			}

			logger, err := newLogger(rc.debug)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync()

			ep, err := ipc.Open(file, ipc.WithPayloadSize(rc.payloadSize), ipc.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("open %s: %w", file, err)
			}
			defer ep.Close()

			var dl *time.Duration
			if blocking && timeout > 0 {
				dl = &timeout
			}

			msg, err := ep.Recv(blocking, dl)
			if err != nil {
				return fmt.Errorf("recv: %w", err)
			}
			if msg == nil && !blocking {
				return fmt.Errorf("recv: ring empty, nothing received")
			}
			fmt.Printf("%s\n", msg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&blocking, "blocking", false, "wait for data instead of failing immediately")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wall-clock deadline for a blocking recv (0 waits forever)")
	return cmd
}

func newResetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [file]",
		Short: "Clear a stale role claim left by a crashed peer",
		Long:  "Clear a stale role claim left by a crashed peer. The file may be omitted as an argument if --config sets path.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := resolveConfig(flags, cmd)
			if err != nil {
				return err
			}

			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			file, err := resolveFilePath(arg, rc.path)
			if err != nil {
				return err
			}

			if err := ipc.ResetFile(file); err != nil {
				return fmt.Errorf("reset %s: %w", file, err)
			}
			fmt.Printf("reset %s\n", file)
			return nil
		},
	}
}
