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

package binary

import (
	"bytes"
	"testing"
)

func TestExpectBytes(t *testing.T) {
	testCases := []struct {
		want  []byte
		input []byte
		match bool
	}{
		{[]byte("BAM\x01"), []byte("BAM\x01"), true},
		{[]byte("BAM\x01"), []byte("BAM\x01\x10\x00\x00\x00"), true},
		{[]byte("BAI\x01"), []byte("BAM\x01"), false},
		{[]byte("BAM\x01"), []byte("BAM"), false},
		{[]byte("BAM\x01"), []byte(""), false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.input), func(t *testing.T) {
			err := ExpectBytes(bytes.NewReader(tc.input), tc.want)
			if err != nil && tc.match {
				t.Fatalf("ExpectBytes returned unexpected error: %v", err)
			} else if err == nil && !tc.match {
				t.Fatalf("ExpectBytes accepted mismatched input %v", tc.match)
			}
		})
	}
}

func TestRead(t *testing.T) {
	var v struct {
		Length int32
		Offset uint64
	}
	input := []byte{0x10, 0x00, 0x00, 0x00, 0x01, 0x02, 0, 0, 0, 0, 0, 0}
	if err := Read(bytes.NewReader(input), &v); err != nil {
		t.Fatalf("Read() returned unexpected error: %v", err)
	}
	if got, want := v.Length, int32(16); got != want {
		t.Errorf("Wrong length: got %d, want %d", got, want)
	}
	if got, want := v.Offset, uint64(0x0201); got != want {
		t.Errorf("Wrong offset: got %#x, want %#x", got, want)
	}

	if err := Read(bytes.NewReader(input[:6]), &v); err == nil {
		t.Errorf("Read() accepted truncated input")
	}
}
