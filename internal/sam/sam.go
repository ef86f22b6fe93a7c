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

// Package sam provides support for parsing SAM files.
package sam

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Sort orders defined for the SO tag of the @HD header line.
const (
	Unknown    = "unknown"
	Unsorted   = "unsorted"
	QueryName  = "queryname"
	Coordinate = "coordinate"
)

var sortOrderRe = regexp.MustCompile(`\tSO:(\S+)`)

// Header holds the parts of a SAM text header that are needed to decide how
// an alignment file may be processed.
type Header struct {
	// SortOrder is the SO tag of the @HD line, or Unknown when absent.
	SortOrder string
}

// ParseHeader parses the SAM text header read from r.  Lines that are not
// header lines (alignments) end the header.
func ParseHeader(r io.Reader) (*Header, error) {
	header := &Header{SortOrder: Unknown}

	// @HD VN:1.6 SO:coordinate
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "@") {
			break
		}
		if !strings.HasPrefix(line, "@HD") {
			continue
		}
		if match := sortOrderRe.FindStringSubmatch(line); match != nil {
			header.SortOrder = match[1]
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading header: %v", err)
	}
	return header, nil
}

// Indexable reports whether the declared sort order allows a coordinate
// index to be built.  An unknown order is allowed since many writers omit
// the @HD line entirely.
func (h *Header) Indexable() bool {
	switch h.SortOrder {
	case Unsorted, QueryName:
		return false
	}
	return true
}
