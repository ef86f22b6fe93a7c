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

// Package bamtest synthesizes small BAM files for tests.
package bamtest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"

	hbam "github.com/biogo/hts/bam"
	hsam "github.com/biogo/hts/sam"
)

// Reference is a sequence of the fixture header.
type Reference struct {
	Name   string
	Length int
}

// References are the sequences declared by every fixture.
var References = []Reference{
	{"chr1", 1000},
	{"chr2", 1000},
}

// Read describes one alignment record.  Ref and MateRef index References,
// with -1 meaning unplaced.
type Read struct {
	Name         string
	Ref, MateRef int
	Pos, MatePos int
	MapQ         byte
	Flags        hsam.Flags
}

const (
	pair   = hsam.Paired
	proper = hsam.Paired | hsam.ProperPair
)

// Standard returns the reads of the standard fixture, sorted by coordinate.
// Its flagstat report is StandardFlagstat.
func Standard() []Read {
	return []Read{
		{"r1", 0, 0, 100, 200, 60, proper | hsam.Read1},
		{"r2", 0, -1, 150, -1, 60, pair | hsam.Read1 | hsam.MateUnmapped},
		{"r1", 0, 0, 200, 100, 60, proper | hsam.Read2},
		{"r3", 0, 1, 300, 50, 3, pair | hsam.Read1},
		{"r4", 0, 1, 400, 60, 30, pair | hsam.Read1 | hsam.Duplicate},
		{"r5", 0, -1, 500, -1, 0, hsam.Secondary},
		{"r3", 1, 0, 50, 300, 10, pair | hsam.Read2},
		{"r4", 1, 0, 60, 400, 30, pair | hsam.Read2 | hsam.Duplicate},
		{"r6", 1, -1, 70, -1, 20, hsam.Supplementary},
		{"r7", 1, -1, 80, -1, 40, hsam.QCFail},
		{"r2", -1, 0, -1, 150, 0, pair | hsam.Read2 | hsam.Unmapped},
		{"r8", -1, -1, -1, -1, 0, hsam.Unmapped},
	}
}

// StandardFlagstat is the flagstat report of the Standard reads.
const StandardFlagstat = `11 + 1 in total (QC-passed reads + QC-failed reads)
9 + 1 primary
1 + 0 secondary
1 + 0 supplementary
2 + 0 duplicates
2 + 0 primary duplicates
9 + 1 mapped (81.82% : 100.00%)
7 + 1 primary mapped (77.78% : 100.00%)
8 + 0 paired in sequencing
4 + 0 read1
4 + 0 read2
2 + 0 properly paired (25.00% : N/A)
6 + 0 with itself and mate mapped
1 + 0 singletons (12.50% : N/A)
4 + 0 with mate mapped to a different chr
3 + 0 with mate mapped to a different chr (mapQ>=5)
`

// Unsorted returns the Standard reads with the first read of chr1 and the
// first read of chr2 swapped.
func Unsorted() []Read {
	reads := Standard()
	reads[0], reads[6] = reads[6], reads[0]
	return reads
}

// Write encodes reads as a BAM file with the given @HD sort order to w.  An
// empty order omits the @HD line.
func Write(w io.Writer, order string, reads []Read) error {
	var refs []*hsam.Reference
	for _, r := range References {
		ref, err := hsam.NewReference(r.Name, "", "", r.Length, nil, nil)
		if err != nil {
			return fmt.Errorf("creating reference %s: %v", r.Name, err)
		}
		refs = append(refs, ref)
	}

	var text []byte
	if order != "" {
		text = []byte(fmt.Sprintf("@HD\tVN:1.6\tSO:%s\n", order))
	}
	header, err := hsam.NewHeader(text, refs)
	if err != nil {
		return fmt.Errorf("creating header: %v", err)
	}

	bw, err := hbam.NewWriter(w, header, 1)
	if err != nil {
		return fmt.Errorf("creating writer: %v", err)
	}

	lookup := func(i int) *hsam.Reference {
		if i < 0 {
			return nil
		}
		return refs[i]
	}
	seq := []byte("ACGTACGTAC")
	qual := bytes.Repeat([]byte{30}, len(seq))
	for _, r := range reads {
		var cigar []hsam.CigarOp
		if r.Flags&hsam.Unmapped == 0 {
			cigar = []hsam.CigarOp{hsam.NewCigarOp(hsam.CigarMatch, len(seq))}
		}
		record, err := hsam.NewRecord(r.Name, lookup(r.Ref), lookup(r.MateRef),
			r.Pos, r.MatePos, 0, r.MapQ, cigar, seq, qual, nil)
		if err != nil {
			return fmt.Errorf("creating record %s: %v", r.Name, err)
		}
		record.Flags = r.Flags
		if err := bw.Write(record); err != nil {
			return fmt.Errorf("writing record %s: %v", r.Name, err)
		}
	}
	return bw.Close()
}

// WriteFile writes reads sorted by coordinate to path and fails the test on
// any error.
func WriteFile(t testing.TB, path string, reads []Read) {
	t.Helper()
	WriteFileOrder(t, path, "coordinate", reads)
}

// WriteFileOrder is WriteFile with an explicit @HD sort order.
func WriteFileOrder(t testing.TB, path, order string, reads []Read) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	if err := Write(f, order, reads); err != nil {
		f.Close()
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close %s: %v", path, err)
	}
}
