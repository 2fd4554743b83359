// Command smog is the CLI entry point: run, repl, compile, disasm and
// version wrapped around internal/runtime, expressed as cobra subcommands in
// place of the teacher's os.Args switch (SPEC_FULL.md §1 "CLI"). It has no
// module loader. Outside this package, only internal/runtime's LoadConfig
// reads a file; the platform defaults and the vm debugger use the standard
// streams.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kristofer/smogjs/internal/bytecode"
	"github.com/kristofer/smogjs/internal/runtime"
)

const version = "0.1.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "smog",
		Short: "smog is an embeddable TypeScript/JavaScript evaluator core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML runtime profile")
	root.AddCommand(runCmd(), replCmd(), compileCmd(), disasmCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newConfiguredRuntime() *runtime.Runtime {
	r := runtime.New(nil)
	if configPath == "" {
		return r
	}
	cfg, err := runtime.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		return r
	}
	r.Configure(cfg)
	return r
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Run a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			r := newConfiguredRuntime()
			if _, err := r.Eval(string(data)); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return nil
		},
	}
}

func compileCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "compile <input.js> [output.smc]",
		Short: "Compile a source file to a bytecode chunk file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			out := outPath
			if len(args) == 2 {
				out = args[1]
			}
			if out == "" {
				out = strings.TrimSuffix(args[0], ".js") + ".smc"
			}
			r := newConfiguredRuntime()
			chunk, err := r.Compile(string(data))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating %s: %w", out, err)
			}
			defer f.Close()
			if err := bytecode.Encode(chunk, f); err != nil {
				return fmt.Errorf("encoding %s: %w", out, err)
			}
			fmt.Printf("compiled %s -> %s\n", args[0], out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output chunk path")
	return cmd
}

func disasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <input.js|input.smc>",
		Short: "Disassemble a source file or compiled chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var chunk *bytecode.Chunk
			if strings.HasSuffix(args[0], ".smc") {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening %s: %w", args[0], err)
				}
				defer f.Close()
				chunk, err = bytecode.Decode(f)
				if err != nil {
					return fmt.Errorf("decoding %s: %w", args[0], err)
				}
			} else {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("reading %s: %w", args[0], err)
				}
				r := newConfiguredRuntime()
				chunk, err = r.Compile(string(data))
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
			}
			fmt.Print(bytecode.Disassemble(chunk))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the smog version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("smog version %s\n", version)
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive read-eval-print loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			runREPL(newConfiguredRuntime())
			return nil
		},
	}
}

// runREPL keeps one Runtime alive across inputs so declarations and state
// built up by earlier lines remain visible to later ones, the way the
// teacher's REPL reused one persistent VM/compiler pair across evaluations.
func runREPL(r *runtime.Runtime) {
	fmt.Printf("smog REPL v%s\n", version)
	fmt.Println("Type ':help' for help, ':quit' to exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("smog> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case ":quit", ":exit":
			return
		case ":help":
			fmt.Println("  :help     show this help")
			fmt.Println("  :quit     exit the REPL")
			continue
		}

		val, err := r.Eval(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			continue
		}
		r.DrainMicrotasks()
		fmt.Println(r.Stringify(val))
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "reading input: %v\n", err)
	}
}
