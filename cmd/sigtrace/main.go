//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// sigtrace inspects reports spilled by the sigtrace library: list the
// reports in a directory, print one, or convert a crash stack to a
// pprof profile.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/exp/slices"

	"github.com/stealthrocket/sigtrace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var (
	listDir   string
	pprofPath string
)

func init() {
	flag.StringVar(&listDir, "dir", "", "List the reports spilled in the given directory.")
	flag.StringVar(&pprofPath, "pprof", "", "Write a pprof profile of the crashed thread to the given file.")
}

func run() error {
	flag.Parse()

	if listDir != "" {
		return listReports(listDir)
	}

	args := flag.Args()
	if len(args) != 1 {
		return fmt.Errorf("usage: sigtrace [--pprof out] </path/to/report> | sigtrace --dir </path/to/reports>")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	report, err := sigtrace.ParseReport(f)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	if pprofPath != "" {
		prof, err := sigtrace.CrashProfile(report)
		if err != nil {
			return err
		}
		return sigtrace.WriteProfile(pprofPath, prof)
	}

	return printReport(report)
}

var reportPrefixes = []string{"crash-", "ex-", "anr-"}

func reportKind(name string) (string, bool) {
	for _, prefix := range reportPrefixes {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimSuffix(prefix, "-"), true
		}
	}
	return "", false
}

func listReports(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, ok := reportKind(entry.Name()); ok {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)

	for _, name := range names {
		kind, _ := reportKind(name)
		fmt.Printf("%-5s  %s\n", kind, filepath.Join(dir, name))
	}
	return nil
}

func printReport(report *sigtrace.Report) error {
	bt := &report.Backtrace
	fmt.Printf("process:   %s (pid %d, ppid %d, uid %d)\n", bt.Name, bt.Pid, bt.Ppid, bt.Uid)
	fmt.Printf("abi:       %s\n", bt.Abi)
	fmt.Printf("time:      %s\n", time.Unix(bt.Timestamp, 0).Format(time.RFC3339))
	fmt.Printf("cause:     %s\n", bt.Exception.Cause)
	if bt.Exception.SignalInfo.SignalName != "" {
		fmt.Printf("signal:    %s (code %d, fault address %#x)\n",
			bt.Exception.SignalInfo.SignalName,
			bt.Exception.SignalInfo.SignalCode,
			bt.Exception.SignalInfo.FaultAddress)
	}
	fmt.Printf("session:   %s\n", bt.SessionID)
	fmt.Printf("build:     %s\n", bt.BuildID)
	fmt.Printf("threads:   %d\n", len(bt.Threads))

	for i := range bt.Threads {
		thread := &bt.Threads[i]
		if !thread.Crashed {
			continue
		}
		fmt.Printf("\ncrashed thread %d (%s, %s, priority %d):\n",
			thread.ThreadNumber, thread.ThreadID, thread.State, thread.Priority)
		for _, frame := range thread.Stack {
			fmt.Printf("  %s\n", frame.Cstr)
		}
	}
	return nil
}
