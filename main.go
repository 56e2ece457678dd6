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
/*
	turbine - a small experimental language with a bytecode VM and an
	x86-64 JIT that decompiles the bytecode back into expression trees
*/
package main

import "os"
import "fmt"
import "flag"
import "time"
import "syscall"
import "os/signal"
import "runtime/pprof"
import "github.com/fsnotify/fsnotify"
import "github.com/launix-de/turbine/storage"
import "github.com/launix-de/turbine/tb"

// workaround for flags package to allow multiple values
type arrayFlags []string

func (i *arrayFlags) String() string {
	return "dummy"
}

func (i *arrayFlags) Set(value string) error {
	*i = append(*i, value)
	return nil
}

// compileSource goes through the program cache so unchanged files skip
// the front-end.
func compileSource(source string) (*tb.Program, error) {
	if program, ok := storage.LoadProgram(source); ok {
		return program, nil
	}
	program, err := tb.Compile(source)
	if err != nil {
		return nil, err
	}
	if err := storage.StoreProgram(source, program); err != nil {
		// a broken cache only costs recompiles
		fmt.Println("cache:", err)
	}
	return program, nil
}

func runSource(name string, source string, verbose bool, jit bool, opts tb.JitOptions) {
	program, err := compileSource(source)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	if verbose {
		disasm, err := tb.Disassemble(program)
		if err != nil {
			fmt.Println("disassembler:", err)
		} else {
			fmt.Print(disasm.String())
		}
		fmt.Println("# of functions:", len(program.Functions))
		fmt.Println("size of code:", tb.HumanCodeSize(tb.CodeSize(program)))
	}

	timeStart := time.Now()
	result, err := tb.Run(program)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("Return:", result)
	fmt.Println("Interpreter took", time.Since(timeStart))

	if !jit {
		return
	}
	mainFn := &program.Functions[program.Main]
	jf, err := tb.JitCompileFunction(mainFn, opts)
	if err != nil {
		fmt.Println("jit:", err)
		return
	}
	tb.Registry.Register(name+":"+mainFn.Name, jf)
	if verbose {
		fmt.Printf("jit: %s at %#x (%s)\n", mainFn.Name, jf.Entry(), tb.HumanCodeSize(jf.CodeSize))
	}
	timeStart = time.Now()
	jitResult := jf.Fn()
	fmt.Println("Jit result:", jitResult)
	fmt.Println("JIT took", time.Since(timeStart))
}

// watchFile reruns a source file whenever it changes on disk.
func watchFile(filename string, rerun func(source string)) {
	reread := func() {
		bytes, err := os.ReadFile(filename)
		if err != nil {
			panic(err)
		}
		rerun(string(bytes))
	}
	reread()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		panic(err)
	}
	defer watcher.Close()
	if err := watcher.Add(filename); err != nil {
		panic(err)
	}
	for range watcher.Events {
		// flush all other events
		for {
			time.Sleep(10 * time.Millisecond) // delay a bit, so we don't read empty files
			select {
			case <-watcher.Events:
				// ignore
			default:
				goto toReread
			}
		}
	toReread:
		func() {
			defer func() {
				if err := recover(); err != nil {
					// error happens during reload: log to console
					fmt.Println(err)
				}
			}()
			reread()
		}()
		watcher.Add(filename) // text editors rename, so we have to rewatch
	}
}

func main() {
	fmt.Print(`turbine Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;

`)

	// parse command line options
	var commands arrayFlags
	flag.Var(&commands, "c", "Execute turbine code from the command line")

	basepath := "cache"
	flag.StringVar(&basepath, "data", "cache", "Folder for the bytecode cache")

	codec := "lz4"
	flag.StringVar(&codec, "codec", "lz4", "Cache compression: lz4, xz, gzip or none")

	profile := ""
	flag.StringVar(&profile, "profile", "", "Write a CPU profile to this file")

	verbose := false
	flag.BoolVar(&verbose, "v", false, "Print disassembly and code stats")

	jit := true
	flag.BoolVar(&jit, "jit", true, "JIT-compile Main after the interpreter run")

	optimize := true
	flag.BoolVar(&optimize, "optimize", true, "Enable JIT optimizations (aliasing, constant folding)")

	watch := false
	flag.BoolVar(&watch, "watch", false, "Watch source files and rerun on change")

	flag.Parse()
	files := flag.Args()

	storage.Settings.Basepath = basepath
	storage.Settings.Codec = codec
	storage.InitSettings()

	opts := tb.JitOptions{UseOptimizations: optimize}

	// install exit handler
	cancelChan := make(chan os.Signal, 1)
	signal.Notify(cancelChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-cancelChan
		exitroutine()
		os.Exit(1)
	}()

	// init profiling
	if profile != "" {
		f, err := os.Create(profile)
		if err != nil {
			panic(err)
		}
		defer f.Close()
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	for _, command := range commands {
		runSource("command line", command, verbose, jit, opts)
	}

	for _, filename := range files {
		fmt.Println("Running " + filename + " ...")
		if watch {
			watchFile(filename, func(source string) {
				runSource(filename, source, verbose, jit, opts)
			})
		} else {
			bytes, err := os.ReadFile(filename)
			if err != nil {
				panic(err)
			}
			runSource(filename, string(bytes), verbose, jit, opts)
		}
	}

	if len(files) == 0 && len(commands) == 0 {
		// REPL shell
		tb.Repl(opts)
	}

	// normal shutdown
	exitroutine()
}

func exitroutine() {
	fmt.Println("Exit procedure...")
	if tb.ReplInstance != nil {
		// in case it doesn't exit properly
		tb.ReplInstance.Close()
	}
	storage.SaveIndex()
	fmt.Println("Exit procedure finished")
}
