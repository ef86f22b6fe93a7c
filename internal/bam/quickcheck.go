// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bam

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/qiita-spots/qtp-bam/internal/bgzf"
)

// CheckError describes why a file failed Quickcheck.  Its message follows
// the diagnostics printed by "samtools quickcheck -v".
type CheckError struct {
	Path   string
	Reason string
	Cause  error
}

func (err *CheckError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("%s %s: %v", err.Path, err.Reason, err.Cause)
	}
	return fmt.Sprintf("%s %s", err.Path, err.Reason)
}

func (err *CheckError) Unwrap() error {
	return err.Cause
}

// Quickcheck performs a fast structural check of the BAM file at path: the
// file must start with a BGZF block, carry a readable BAM header with at
// least one reference and end with the BGZF EOF marker.  Alignment records
// are not decoded.
func Quickcheck(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &CheckError{path, "could not be opened for reading", err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &CheckError{path, "could not be opened for reading", err}
	}

	if _, _, err := bgzf.DecodeBlock(bufio.NewReader(f)); err != nil {
		return &CheckError{path, "did not look like a BAM file", err}
	}

	header, err := ReadHeader(io.NewSectionReader(f, 0, info.Size()))
	if err != nil {
		return &CheckError{path, "caused an error whilst reading its header", err}
	}
	if len(header.References) == 0 {
		return &CheckError{Path: path, Reason: "had no targets in header."}
	}

	ok, err := bgzf.HasEOFMarker(f, info.Size())
	if err != nil {
		return &CheckError{path, "could not be read", err}
	}
	if !ok {
		return &CheckError{Path: path, Reason: "was missing EOF block when one should be present."}
	}
	return nil
}
