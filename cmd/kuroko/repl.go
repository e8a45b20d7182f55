package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/kuroko-lang/gokuroko/vm"
)

// repl reads statements from stdin and evaluates them in a shared __main__
// module. Blocks are collected until a blank line ends them.
func repl(machine *vm.VM) error {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	machine.StartModule("__main__")

	prompt := color.New(color.FgCyan).SprintFunc()
	more := color.New(color.FgHiBlack).SprintFunc()
	if flagNoColor || machine.GlobalFlags&vm.GlobalCleanOutput != 0 {
		color.NoColor = true
	}

	if interactive {
		fmt.Printf("kuroko %s\n", vm.Version)
	}

	reader := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print(prompt(">>> "))
		}
		if !reader.Scan() {
			return nil
		}
		line := reader.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		// Block statements continue until a blank line closes them.
		if strings.HasSuffix(strings.TrimRight(line, " \t"), ":") {
			var block strings.Builder
			block.WriteString(line)
			block.WriteByte('\n')
			for {
				if interactive {
					fmt.Print(more("... "))
				}
				if !reader.Scan() {
					break
				}
				next := reader.Text()
				if strings.TrimSpace(next) == "" {
					break
				}
				block.WriteString(next)
				block.WriteByte('\n')
			}
			line = block.String()
		}

		thread := machine.CurrentThread()
		machine.Interpret(line, "<stdin>")
		if thread.HasException() {
			machine.DumpTraceback()
			thread.ClearException()
			thread.ResetStack()
		}
	}
}
