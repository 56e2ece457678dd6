/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package tb

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/chzyer/readline"
)

const newprompt = "\033[32m>\033[0m "
const contprompt = "\033[32m.\033[0m "
const resultprompt = "\033[31m=\033[0m "

// ReplInstance is closed by the exit routine in case the REPL does not
// shut down on its own.
var ReplInstance *readline.Instance

// Repl reads whole programs interactively. Input continues on the next
// line as long as the parser runs out of tokens mid-program (e.g. an open
// Fn body), so functions can be typed across lines.
func Repl(opts JitOptions) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".turbine-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()
	ReplInstance = l

	oldline := ""
	for {
		line, err := l.Readline()
		line = oldline + line
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			oldline = ""
			l.SetPrompt(newprompt)
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		if line == "" {
			continue
		}

		// anti-panic func
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("panic:", r, string(debug.Stack()))
					oldline = ""
					l.SetPrompt(newprompt)
				}
			}()

			program, err := Compile(line)
			var parseErr *ParseError
			if errors.As(err, &parseErr) && parseErr.AtEOF {
				// incomplete program: keep collecting lines
				oldline = line + "\n"
				l.SetPrompt(contprompt)
				return
			}
			if err != nil {
				fmt.Println("error:", err)
				oldline = ""
				l.SetPrompt(newprompt)
				return
			}

			result, err := Run(program)
			if err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Print(resultprompt)
				fmt.Println(result)
			}

			if jf, err := JitCompileFunction(&program.Functions[program.Main], opts); err != nil {
				fmt.Println("jit:", err)
			} else {
				Registry.Register(program.Functions[program.Main].Name, jf)
				fmt.Print(resultprompt)
				fmt.Println(jf.Fn(), "(jit)")
			}

			oldline = ""
			l.SetPrompt(newprompt)
		}()
	}
}
