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
	"context"
	"fmt"
	"io"
	"strings"

	hbam "github.com/biogo/hts/bam"
	hsam "github.com/biogo/hts/sam"
)

// How many records are processed between context checks.
const checkInterval = 1 << 16

// The mapping quality threshold used for the "different chr (mapQ>=5)" line.
const minimumDiffChrQuality = 5

// Counts holds a statistic split into QC-passed (index 0) and QC-failed
// (index 1) reads.
type Counts [2]int64

// Stats holds the alignment statistics reported by Flagstat.  The fields
// follow the lines of the "samtools flagstat" report.
type Stats struct {
	Total             Counts
	Primary           Counts
	Secondary         Counts
	Supplementary     Counts
	Duplicates        Counts
	PrimaryDuplicates Counts
	Mapped            Counts
	PrimaryMapped     Counts
	Paired            Counts
	Read1             Counts
	Read2             Counts
	ProperlyPaired    Counts
	BothMapped        Counts
	Singletons        Counts
	MateDiffChr       Counts
	MateDiffChrHighQ  Counts
}

// Add accumulates a single record into s.
func (s *Stats) Add(r *hsam.Record) {
	w := 0
	if r.Flags&hsam.QCFail != 0 {
		w = 1
	}
	unmapped := r.Flags&hsam.Unmapped != 0

	s.Total[w]++
	switch {
	case r.Flags&hsam.Secondary != 0:
		s.Secondary[w]++
	case r.Flags&hsam.Supplementary != 0:
		s.Supplementary[w]++
	default:
		s.Primary[w]++
		if r.Flags&hsam.Paired != 0 {
			mateUnmapped := r.Flags&hsam.MateUnmapped != 0

			s.Paired[w]++
			if r.Flags&hsam.ProperPair != 0 && !unmapped {
				s.ProperlyPaired[w]++
			}
			if r.Flags&hsam.Read1 != 0 {
				s.Read1[w]++
			}
			if r.Flags&hsam.Read2 != 0 {
				s.Read2[w]++
			}
			if mateUnmapped && !unmapped {
				s.Singletons[w]++
			}
			if !unmapped && !mateUnmapped {
				s.BothMapped[w]++
				if r.MateRef.ID() != r.Ref.ID() {
					s.MateDiffChr[w]++
					if r.MapQ >= minimumDiffChrQuality {
						s.MateDiffChrHighQ[w]++
					}
				}
			}
		}
		if !unmapped {
			s.PrimaryMapped[w]++
		}
		if r.Flags&hsam.Duplicate != 0 {
			s.PrimaryDuplicates[w]++
		}
	}
	if !unmapped {
		s.Mapped[w]++
	}
	if r.Flags&hsam.Duplicate != 0 {
		s.Duplicates[w]++
	}
}

// String returns the statistics in the text layout of "samtools flagstat".
func (s *Stats) String() string {
	var b strings.Builder
	line := func(c Counts, label string) {
		fmt.Fprintf(&b, "%d + %d %s\n", c[0], c[1], label)
	}
	ratio := func(c Counts, label string, of Counts) {
		fmt.Fprintf(&b, "%d + %d %s (%s : %s)\n", c[0], c[1], label,
			percent(c[0], of[0]), percent(c[1], of[1]))
	}

	line(s.Total, "in total (QC-passed reads + QC-failed reads)")
	line(s.Primary, "primary")
	line(s.Secondary, "secondary")
	line(s.Supplementary, "supplementary")
	line(s.Duplicates, "duplicates")
	line(s.PrimaryDuplicates, "primary duplicates")
	ratio(s.Mapped, "mapped", s.Total)
	ratio(s.PrimaryMapped, "primary mapped", s.Primary)
	line(s.Paired, "paired in sequencing")
	line(s.Read1, "read1")
	line(s.Read2, "read2")
	ratio(s.ProperlyPaired, "properly paired", s.Paired)
	line(s.BothMapped, "with itself and mate mapped")
	ratio(s.Singletons, "singletons", s.Paired)
	line(s.MateDiffChr, "with mate mapped to a different chr")
	line(s.MateDiffChrHighQ, "with mate mapped to a different chr (mapQ>=5)")
	return b.String()
}

// percent matches the single precision arithmetic samtools uses, so that
// rounding of the last digit agrees with its reports.
func percent(n, total int64) string {
	if total == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", float64(float32(n)/float32(total))*100.0)
}

// Flagstat decodes every record of the BAM data read from r and returns the
// accumulated statistics.
func Flagstat(ctx context.Context, r io.Reader) (*Stats, error) {
	br, err := hbam.NewReader(r, 1)
	if err != nil {
		return nil, fmt.Errorf("opening reader: %v", err)
	}
	defer br.Close()

	var (
		stats Stats
		n     int64
	)
	for {
		record, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record %d: %v", n+1, err)
		}
		n++
		if n%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		stats.Add(record)
	}
	return &stats, nil
}
