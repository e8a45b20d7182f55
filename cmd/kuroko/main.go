// Command kuroko is the interpreter driver: it runs files, strings and
// modules, disassembles compiled code, and offers a simple REPL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/kuroko-lang/gokuroko/compiler"
	"github.com/kuroko-lang/gokuroko/internal/config"
	"github.com/kuroko-lang/gokuroko/vm"
)

var (
	flagCommand  string
	flagModule   string
	flagDis      bool
	flagTrace    bool
	flagReportGC bool
	flagStress   bool
	flagNoColor  bool
	flagVerbose  int
)

func main() {
	root := &cobra.Command{
		Use:   "kuroko [file] [args...]",
		Short: "The Kuroko interpreter",
		Args:  cobra.ArbitraryArgs,
		RunE:  runRoot,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().StringVarP(&flagCommand, "command", "c", "", "execute a program passed as a string")
	root.Flags().StringVarP(&flagModule, "module", "m", "", "run a module as __main__")
	root.PersistentFlags().BoolVarP(&flagDis, "disassemble", "d", false, "print disassembly before execution")
	root.PersistentFlags().BoolVarP(&flagTrace, "trace", "t", false, "trace instruction execution")
	root.PersistentFlags().BoolVarP(&flagReportGC, "report-gc", "g", false, "log garbage collection cycles")
	root.PersistentFlags().BoolVar(&flagStress, "stress-gc", false, "collect on every allocation")
	root.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored output")
	root.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity")

	root.AddCommand(&cobra.Command{
		Use:   "dis FILE",
		Short: "Disassemble a source file",
		Args:  cobra.ExactArgs(1),
		RunE:  runDis,
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kuroko:", err)
		os.Exit(2)
	}
}

// newVM builds a configured interpreter with the compiler front end wired
// in.
func newVM() *vm.VM {
	cfg, _ := config.FindAndLoad(".")

	verbosity := flagVerbose
	if flagReportGC || cfg.ReportGC {
		verbosity++
	}
	commonlog.Configure(verbosity, nil)

	flags := 0
	if flagStress || cfg.StressGC {
		flags |= vm.GlobalEnableStressGC
	}
	if flagNoColor || cfg.NoColor {
		flags |= vm.GlobalCleanOutput
	}
	machine := vm.New(flags)
	machine.ModulePaths = cfg.ModulePaths
	machine.MaximumCallDepth = cfg.MaxCallDepth
	compiler.Install(machine)

	thread := machine.CurrentThread()
	if flagTrace {
		thread.EnableTracing()
	}
	return machine
}

func runRoot(cmd *cobra.Command, args []string) error {
	machine := newVM()
	defer machine.Shutdown()

	switch {
	case flagCommand != "":
		machine.StartModule("__main__")
		if flagDis {
			disassembleSource(machine, flagCommand, "<command>")
		}
		machine.Interpret(flagCommand, "<command>")
	case flagModule != "":
		if !machine.ImportModule(flagModule, "__main__") {
			machine.DumpTraceback()
			os.Exit(1)
		}
		return nil
	case len(args) > 0:
		if flagDis {
			if source, err := os.ReadFile(args[0]); err == nil {
				disassembleSource(machine, string(source), args[0])
			}
		}
		machine.RunFile(args[0], "__main__")
	default:
		return repl(machine)
	}

	if machine.CurrentThread().HasException() {
		machine.DumpTraceback()
		os.Exit(1)
	}
	return nil
}

func runDis(cmd *cobra.Command, args []string) error {
	machine := newVM()
	defer machine.Shutdown()
	source, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	machine.StartModule("__main__")
	if !disassembleSource(machine, string(source), args[0]) {
		machine.DumpTraceback()
		os.Exit(1)
	}
	return nil
}

func disassembleSource(machine *vm.VM, source, filename string) bool {
	code := compiler.Compile(machine, source, filename)
	if code == nil {
		return false
	}
	fmt.Print(vm.Disassemble(code))
	return true
}
