/*
 * netzp - Main process.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"
	"github.com/peterh/liner"

	"github.com/rcornwell/netzp/emu/ioc"
	"github.com/rcornwell/netzp/emu/layout"
	"github.com/rcornwell/netzp/emu/model"
	"github.com/rcornwell/netzp/emu/netz"
	"github.com/rcornwell/netzp/host/bitmap"
	"github.com/rcornwell/netzp/host/weightdump"
	logger "github.com/rcornwell/netzp/util/logger"
)

var Logger *slog.Logger

func main() {
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optCores := getopt.IntLong("cores", 'n', layout.DefaultCoreCount, "Number of computation cores")
	optInteractive := getopt.BoolLong("interactive", 'i', "Drop into the interactive console after loading")
	optDebug := getopt.BoolLong("debug", 'd', "Echo log output to stderr regardless of level")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.SetParameters("INPUT_FILE NETWORK_DUMP_FILE")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	args := getopt.Args()
	if len(args) != 2 {
		getopt.Usage()
		os.Exit(1)
	}

	var file *os.File
	if *optLogFile != "" {
		var err error
		file, err = os.Create(*optLogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "could not create log file: ", err)
			os.Exit(1)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, optDebug))
	slog.SetDefault(Logger)

	Logger.Info("netzp started")

	pixels, err := loadBitmapFile(args[0])
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}

	net, err := loadWeightDumpFile(args[1])
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}

	cfg := model.DefaultConfig()
	cfg.CoreCount = *optCores
	sim := model.New(cfg)

	if *optInteractive {
		runConsole(sim, pixels, net)
		return
	}

	out, err := sim.Run(pixels, net)
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}

	printResult(out)
	label, idx := classify(out)
	Logger.Info("netzp finished", "top1", idx, "label", label)
}

func loadBitmapFile(path string) (ioc.Pixels, error) {
	f, err := os.Open(path)
	if err != nil {
		return ioc.Pixels{}, fmt.Errorf("could not open bitmap file %s: %w", path, err)
	}
	defer f.Close()
	return bitmap.Load(f)
}

func loadWeightDumpFile(path string) (netz.NetzwerkData, error) {
	f, err := os.Open(path)
	if err != nil {
		return netz.NetzwerkData{}, fmt.Errorf("could not open weight dump file %s: %w", path, err)
	}
	defer f.Close()
	return weightdump.Parse(f)
}

func printResult(out []float32) {
	for i, v := range out {
		fmt.Printf("Output value %d: %v\n", i, v)
	}
	label, _ := classify(out)
	fmt.Println(label)
}

// classify reports the circle/square/triangle label for whichever score
// is largest, matching the original's CIRCLE_OUTPUT/SQUARE_OUTPUT/
// TRIANGLE_OUTPUT index convention.
func classify(scores []float32) (label string, idx int) {
	if len(scores) == 0 {
		return "unknown", -1
	}
	best := 0
	for i, v := range scores {
		if v > scores[best] {
			best = i
		}
	}
	switch best {
	case 0:
		return "circle", best
	case 1:
		return "square", best
	case 2:
		return "triangle", best
	default:
		return "unknown", best
	}
}

func runConsole(sim *model.Simulation, pixels ioc.Pixels, net netz.NetzwerkData) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	fmt.Println("netzp interactive console. Commands: run, step, dump, quit")
	for {
		command, err := line.Prompt("netzp> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return
			}
			slog.Error("error reading line: " + err.Error())
			return
		}
		line.AppendHistory(command)

		switch command {
		case "run":
			out, err := sim.Run(pixels, net)
			if err != nil {
				fmt.Println("Error: " + err.Error())
				continue
			}
			printResult(out)

		case "step":
			if err := sim.Step(); err != nil {
				fmt.Println("Error: " + err.Error())
			}

		case "dump":
			fmt.Println(sim.Dump())

		case "quit", "exit":
			return

		default:
			fmt.Println("unknown command: " + command)
		}
	}
}
