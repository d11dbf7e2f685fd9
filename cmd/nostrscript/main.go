// Command nostrscript reads a `.wasm` file by path, decodes and
// instantiates it, invokes the entry function, and exits with the guest's
// return code.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/damus-io/nostrscript/internal/interp"
	"github.com/damus-io/nostrscript/internal/wasm"
	"github.com/damus-io/nostrscript/logging"
	"github.com/damus-io/nostrscript/wasi"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nostrscript",
		Short:         "Parse and run WebAssembly 1.0 modules under the nostrscript interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newCompileCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nostrscript build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <path.wasm>",
		Short: "Parse a module without instantiating it, reporting section statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			m, err := wasm.Decode(data, nil)
			if err != nil {
				logging.LogError(logging.NewLogger(), logging.ComponentDecoder, "", err)
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "types:      %d\n", len(m.Types))
			fmt.Fprintf(out, "imports:    %d\n", len(m.Imports))
			fmt.Fprintf(out, "functions:  %d\n", len(m.Functions))
			fmt.Fprintf(out, "tables:     %d\n", len(m.Tables))
			fmt.Fprintf(out, "memories:   %d\n", len(m.Memories))
			fmt.Fprintf(out, "globals:    %d\n", len(m.Globals))
			fmt.Fprintf(out, "exports:    %d\n", len(m.Exports))
			fmt.Fprintf(out, "elements:   %d\n", len(m.Elements))
			fmt.Fprintf(out, "data:       %d\n", len(m.Data))
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var guestArgs []string
	cmd := &cobra.Command{
		Use:   "run <path.wasm>",
		Short: "Instantiate a module and invoke its entry function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRun(cmd, args[0], guestArgs)
		},
	}
	cmd.Flags().StringArrayVar(&guestArgs, "arg", nil, "argument to expose to the guest via WASI args_get (repeatable)")
	return cmd
}

func doRun(cmd *cobra.Command, path string, guestArgs []string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	log := logging.NewLogger()

	argv := append([]string{path}, guestArgs...)
	builtins := wasi.Builtins(cmd.OutOrStdout(), argv, os.Environ())

	m, err := wasm.Decode(data, interp.BuiltinNames(builtins))
	if err != nil {
		logging.LogError(log, logging.ComponentDecoder, "", err)
		return err
	}

	ctx := context.Background()
	in, err := interp.NewInterpreter(ctx, m, interp.WithBuiltins(builtins...))
	if err != nil {
		logging.LogError(log, logging.ComponentInterp, "", err)
		return err
	}
	in.SetupWASI(argv, os.Environ())

	res, err := in.Run(ctx)
	if err != nil {
		logging.LogError(log, logging.ComponentInterp, "", err)
		logging.LogBacktrace(log, logging.ComponentInterp, in.Errors())
		return err
	}

	// the entry function's i32 result is the return code when it has one;
	// otherwise it is the code passed to proc_exit (0 if never called).
	code := in.ExitCode()
	if len(res) > 0 {
		code = int(int32(res[len(res)-1].I32()))
	}
	fmt.Fprintln(cmd.OutOrStdout(), code)
	os.Exit(code)
	return nil
}
