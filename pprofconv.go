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

package sigtrace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/pprof/profile"
)

// Report is the parsed form of a spilled document. The signal-path
// writer never builds this; it exists for the pickup side: inspection
// tooling and the pprof conversion below.
type Report struct {
	Backtrace ReportBacktrace `json:"backtrace"`
}

type ReportBacktrace struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Timestamp   int64               `json:"timestamp"`
	Abi         string              `json:"abi"`
	Pid         int                 `json:"pid"`
	Ppid        int                 `json:"ppid"`
	Uid         int                 `json:"uid"`
	BuildID     string              `json:"buildid"`
	SessionID   string              `json:"sessionid"`
	Platform    string              `json:"platform"`
	Exception   ReportExceptionInfo `json:"exception"`
	Threads     []ReportThread      `json:"threads"`

	// Registers are architecture-dependent; consumers that need them
	// decode against their own key set.
	Registers map[string]json.RawMessage `json:"registers"`
}

type ReportExceptionInfo struct {
	Name       string           `json:"name"`
	Cause      string           `json:"cause"`
	SignalInfo ReportSignalInfo `json:"signalInfo"`
}

type ReportSignalInfo struct {
	SignalName   string `json:"signalName"`
	SignalCode   int    `json:"signalCode"`
	FaultAddress uint64 `json:"faultAddress"`
}

type ReportThread struct {
	ThreadNumber int           `json:"threadNumber"`
	ThreadID     string        `json:"threadId"`
	State        string        `json:"state"`
	Priority     int           `json:"priority"`
	Crashed      bool          `json:"crashed"`
	Stack        []ReportFrame `json:"stack"`
}

type ReportFrame struct {
	Cstr          string `json:"cstr"`
	Index         int    `json:"index"`
	Address       uint64 `json:"address"`
	Pc            uint64 `json:"pc"`
	SoBase        uint64 `json:"so_base"`
	SymAddr       uint64 `json:"sym_addr"`
	SymAddrOffset uint64 `json:"sym_addr_offset"`
	SoPath        string `json:"so_path"`
	SymName       string `json:"sym_name"`
}

// ParseReport decodes one spilled report document.
func ParseReport(r io.Reader) (*Report, error) {
	var report Report
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &report, nil
}

// CrashProfile converts a report's crashed-thread stack into a pprof
// profile so standard pprof tooling can render it: one sample per
// crashed thread, one location per frame, a mapping per module.
func CrashProfile(report *Report) (*profile.Profile, error) {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "crash", Unit: "count"},
		},
		TimeNanos: report.Backtrace.Timestamp * 1e9,
		Comments: []string{
			fmt.Sprintf("signal: %s", report.Backtrace.Description),
		},
	}

	locationID := uint64(1)
	mappings := make(map[string]*profile.Mapping)
	functions := make(map[string]*profile.Function)

	for i := range report.Backtrace.Threads {
		thread := &report.Backtrace.Threads[i]
		if !thread.Crashed || len(thread.Stack) == 0 {
			continue
		}

		locations := make([]*profile.Location, 0, len(thread.Stack))
		for _, frame := range thread.Stack {
			loc := &profile.Location{
				ID:      locationID,
				Address: frame.Address,
			}
			locationID++

			if frame.SoPath != "" {
				m := mappings[frame.SoPath]
				if m == nil {
					m = &profile.Mapping{
						ID:    uint64(len(mappings)) + 1,
						Start: frame.SoBase,
						File:  frame.SoPath,
					}
					mappings[frame.SoPath] = m
					prof.Mapping = append(prof.Mapping, m)
				}
				loc.Mapping = m
			}

			if frame.SymName != "" {
				fn := functions[frame.SymName]
				if fn == nil {
					fn = &profile.Function{
						ID:         uint64(len(functions)) + 1, // 0 is reserved by pprof
						Name:       frame.SymName,
						SystemName: frame.SymName,
					}
					functions[frame.SymName] = fn
					prof.Function = append(prof.Function, fn)
				}
				loc.Line = []profile.Line{{Function: fn}}
			}

			prof.Location = append(prof.Location, loc)
			locations = append(locations, loc)
		}

		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: locations,
			Value:    []int64{1},
			Label: map[string][]string{
				"thread": {thread.ThreadID},
			},
		})
	}

	if len(prof.Sample) == 0 {
		return nil, fmt.Errorf("report has no crashed thread with frames")
	}
	return prof, nil
}

// WriteProfile writes a profile to a file at the given path.
func WriteProfile(path string, prof *profile.Profile) error {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()
	return prof.Write(w)
}
