// Copyright 2017 Google Inc.
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

// Package bam provides support for parsing, checking, indexing and
// summarizing BAM files.
package bam

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/qiita-spots/qtp-bam/internal/bgzf"
	"github.com/qiita-spots/qtp-bam/internal/binary"
	"github.com/qiita-spots/qtp-bam/internal/sam"
)

const (
	baiMagic = "BAI\x01"
	bamMagic = "BAM\x01"

	// This ID is used as a virtual bin ID for (unused) chunk metadata.
	metadataID = 37450

	// This is just to prevent arbitrarily long allocations due to malformed
	// data.  No reference name should be longer than this in practice.
	maximumNameLength = 1024

	// Upper bound on the SAM text header, for the same reason.
	maximumHeaderLength = 1 << 28

	// A metadata bin always holds two pseudo chunks.
	metadataChunks = 2

	// Bins 0 to 37449 plus the metadata bin.
	maximumBinCount = metadataID + 1

	// The maximum read length as constrained by the size of the level zero bin
	// in the SAM specification, section 5.1.1.
	maximumReadLength = 1 << 29

	// The size of each tiling window from the linear index, as specified in the
	// SAM specification section 5.1.3.
	linearWindowSize = 1 << 14

	// One linear index entry per tiling window.
	maximumIntervals = maximumReadLength / linearWindowSize
)

// Reference is an entry of the binary reference dictionary stored after the
// SAM text header.
type Reference struct {
	Name   string
	Length int32
}

// Header is the decoded header of a BAM file.
type Header struct {
	// Text is the SAM text header as stored in the file.
	Text string
	// SAM holds the parsed form of Text.
	SAM *sam.Header
	// References is the binary reference dictionary.
	References []Reference
}

// ReadHeader decodes the BAM header (magic, SAM text and reference
// dictionary) from the start of bam.
func ReadHeader(bam io.Reader) (*Header, error) {
	bam, err := gzip.NewReader(bam)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %v", err)
	}

	if err := binary.ExpectBytes(bam, []byte(bamMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %v", err)
	}
	var length int32
	if err := binary.Read(bam, &length); err != nil {
		return nil, fmt.Errorf("reading SAM header length: %v", err)
	}
	if length < 0 || length > maximumHeaderLength {
		return nil, fmt.Errorf("invalid SAM header length (%d bytes)", length)
	}
	text := make([]byte, length)
	if _, err := io.ReadFull(bam, text); err != nil {
		return nil, fmt.Errorf("reading SAM header: %v", err)
	}
	// Some writers pad the text with NUL bytes.
	header := &Header{Text: strings.TrimRight(string(text), "\x00")}
	if header.SAM, err = sam.ParseHeader(strings.NewReader(header.Text)); err != nil {
		return nil, fmt.Errorf("parsing SAM header: %v", err)
	}

	var count int32
	if err := binary.Read(bam, &count); err != nil {
		return nil, fmt.Errorf("reading references count: %v", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("invalid references count (%d)", count)
	}
	for i := int32(0); i < count; i++ {
		if err := binary.Read(bam, &length); err != nil {
			return nil, fmt.Errorf("reading name length: %v", err)
		}
		// The name length includes a null terminating character.
		if length < 1 || length > maximumNameLength {
			return nil, fmt.Errorf("invalid name length (%d bytes)", length)
		}
		name := make([]byte, length)
		if _, err := io.ReadFull(bam, name); err != nil {
			return nil, fmt.Errorf("reading name: %v", err)
		}
		ref := Reference{Name: string(name[:length-1])}
		if err := binary.Read(bam, &ref.Length); err != nil {
			return nil, fmt.Errorf("reading reference length: %v", err)
		}
		header.References = append(header.References, ref)
	}
	return header, nil
}

// ReferenceIndex is the part of a BAI index that describes one reference.
type ReferenceIndex struct {
	// Chunks holds the chunks of every bin except the metadata bin.
	Chunks []*bgzf.Chunk
	// Intervals is the linear index: the address of the first read
	// overlapping each tiling window.
	Intervals []bgzf.Address
}

// ReadIndex decodes the BAI index read from bai in a single pass.  Every
// count read from the index is checked against the limits of the format
// before anything is allocated for it.
func ReadIndex(bai io.Reader) ([]ReferenceIndex, error) {
	if err := binary.ExpectBytes(bai, []byte(baiMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %v", err)
	}

	var references int32
	if err := binary.Read(bai, &references); err != nil {
		return nil, fmt.Errorf("reading reference count: %v", err)
	}
	if references < 0 {
		return nil, fmt.Errorf("invalid reference count (%d)", references)
	}

	var index []ReferenceIndex
	for i := int32(0); i < references; i++ {
		ref, err := readReferenceIndex(bai)
		if err != nil {
			return nil, fmt.Errorf("reading reference %d: %v", i, err)
		}
		index = append(index, ref)
	}
	return index, nil
}

func readReferenceIndex(bai io.Reader) (ReferenceIndex, error) {
	var ref ReferenceIndex

	var binCount int32
	if err := binary.Read(bai, &binCount); err != nil {
		return ref, fmt.Errorf("reading bin count: %v", err)
	}
	if binCount < 0 || binCount > maximumBinCount {
		return ref, fmt.Errorf("invalid bin count (%d bins)", binCount)
	}
	for j := int32(0); j < binCount; j++ {
		var bin struct {
			ID     uint32
			Chunks int32
		}
		if err := binary.Read(bai, &bin); err != nil {
			return ref, fmt.Errorf("reading bin header: %v", err)
		}
		if bin.ID > metadataID {
			return ref, fmt.Errorf("invalid bin ID (%d)", bin.ID)
		}
		if bin.Chunks < 0 || (bin.ID == metadataID && bin.Chunks != metadataChunks) {
			return ref, fmt.Errorf("invalid chunk count (%d chunks in bin %d)", bin.Chunks, bin.ID)
		}

		for k := int32(0); k < bin.Chunks; k++ {
			var chunk bgzf.Chunk
			if err := binary.Read(bai, &chunk); err != nil {
				return ref, fmt.Errorf("reading chunk: %v", err)
			}
			if bin.ID == metadataID {
				continue
			}
			if chunk.End < chunk.Start {
				return ref, fmt.Errorf("chunk %v of bin %d ends before it starts", &chunk, bin.ID)
			}
			ref.Chunks = append(ref.Chunks, &chunk)
		}
	}

	var intervals int32
	if err := binary.Read(bai, &intervals); err != nil {
		return ref, fmt.Errorf("reading interval count: %v", err)
	}
	if intervals < 0 || intervals > maximumIntervals {
		return ref, fmt.Errorf("invalid interval count (%d intervals)", intervals)
	}
	ref.Intervals = make([]bgzf.Address, intervals)
	if err := binary.Read(bai, &ref.Intervals); err != nil {
		return ref, fmt.Errorf("reading offsets: %v", err)
	}
	return ref, nil
}

// CheckIndex verifies that bai holds a BAI index for a BAM file of size bytes
// with the given header.  The index may describe fewer references than the
// header declares, since trailing references without reads can be absent,
// but never more.  Every chunk and linear index entry must address data
// inside the file.
func CheckIndex(bai []byte, header *Header, size int64) error {
	index, err := ReadIndex(bytes.NewReader(bai))
	if err != nil {
		return err
	}
	if got, want := len(index), len(header.References); got > want {
		return fmt.Errorf("index describes %d references, header has %d", got, want)
	}
	for i, ref := range index {
		name := header.References[i].Name
		for _, chunk := range ref.Chunks {
			if !insideFile(chunk.End, size) {
				return fmt.Errorf("chunk %v of %s lies past the end of the file (%d bytes)", chunk, name, size)
			}
		}
		for j, offset := range ref.Intervals {
			if !insideFile(offset, size) {
				return fmt.Errorf("linear index entry %d of %s (%v) lies past the end of the file (%d bytes)", j, name, offset, size)
			}
		}
	}
	return nil
}

// insideFile reports whether address points into, or exactly at the end of, a
// BGZF file of size bytes.
func insideFile(address bgzf.Address, size int64) bool {
	block := address.BlockOffset()
	if block == uint64(size) {
		return address.DataOffset() == 0
	}
	return block < uint64(size)
}
