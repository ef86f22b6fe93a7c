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

	hbam "github.com/biogo/hts/bam"
)

// BuildIndex reads the size bytes of BAM data in r and writes a BAI index
// for them to w.  The records must be sorted by coordinate; a header that
// declares another sort order is rejected before any record is read.
func BuildIndex(ctx context.Context, r io.ReaderAt, size int64, w io.Writer) error {
	header, err := ReadHeader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return fmt.Errorf("reading header: %v", err)
	}
	if !header.SAM.Indexable() {
		return fmt.Errorf("file is sorted by %s, not by coordinate", header.SAM.SortOrder)
	}

	br, err := hbam.NewReader(io.NewSectionReader(r, 0, size), 1)
	if err != nil {
		return fmt.Errorf("opening reader: %v", err)
	}
	defer br.Close()

	var (
		index hbam.Index
		n     int64
	)
	for {
		record, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading record %d: %v", n+1, err)
		}
		n++
		if n%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := index.Add(record, br.LastChunk()); err != nil {
			return fmt.Errorf("indexing record %d (%s): %v", n, record.Name, err)
		}
	}

	if err := hbam.WriteIndex(w, &index); err != nil {
		return fmt.Errorf("writing index: %v", err)
	}
	return nil
}
