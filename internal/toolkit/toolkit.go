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

// Package toolkit runs the file level genomics operations the plugin needs
// (index, quickcheck and flagstat) against BAM files on local disk.
package toolkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qiita-spots/qtp-bam/internal/bam"
)

// IndexSuffix is appended to a BAM path to name its generated index.
const IndexSuffix = ".bai"

// Native implements the toolkit operations in process.
type Native struct {
	logger *zap.Logger
}

// New returns a Native toolkit that logs to logger, which may be nil.
func New(logger *zap.Logger) *Native {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Native{logger: logger}
}

// Index writes a BAI index for the BAM file at path to path+".bai" and
// returns the index path.  The index is written to a temporary file in the
// same directory and renamed into place once it has been verified.
func (n *Native) Index(ctx context.Context, path string) (string, error) {
	target := path + IndexSuffix
	n.logger.Debug("Generating index", zap.String("path", path), zap.String("index", target))

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening input: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("reading input size: %v", err)
	}

	temporary := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+uuid.New().String())
	out, err := os.Create(temporary)
	if err != nil {
		return "", fmt.Errorf("creating index: %v", err)
	}
	defer os.Remove(temporary)

	if err := bam.BuildIndex(ctx, f, info.Size(), out); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing index: %v", err)
	}

	if err := n.VerifyIndex(ctx, path, temporary); err != nil {
		return "", fmt.Errorf("verifying generated index: %v", err)
	}
	if err := os.Rename(temporary, target); err != nil {
		return "", fmt.Errorf("moving index into place: %v", err)
	}
	return target, nil
}

// VerifyIndex checks that the file at index is a readable BAI index for the
// BAM file at path.
func (n *Native) VerifyIndex(ctx context.Context, path, index string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening input: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("reading input size: %v", err)
	}
	header, err := bam.ReadHeader(f)
	if err != nil {
		return fmt.Errorf("reading header: %v", err)
	}

	data, err := os.ReadFile(index)
	if err != nil {
		return fmt.Errorf("reading index: %v", err)
	}
	return bam.CheckIndex(data, header, info.Size())
}

// Quickcheck runs a structural check of the BAM file at path.  A failure is
// reported as a *bam.CheckError.
func (n *Native) Quickcheck(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Debug("Checking integrity", zap.String("path", path))
	return bam.Quickcheck(path)
}

// Flagstat returns the flagstat report of the BAM file at path.
func (n *Native) Flagstat(ctx context.Context, path string) (string, error) {
	n.logger.Debug("Computing flagstat", zap.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening input: %v", err)
	}
	defer f.Close()

	stats, err := bam.Flagstat(ctx, f)
	if err != nil {
		return "", err
	}
	return stats.String(), nil
}

// IndexCandidates returns the paths at which an index for the BAM file at
// path is conventionally found: "X.bam.bai" and "X.bai".
func IndexCandidates(path string) []string {
	candidates := []string{path + IndexSuffix}
	if trimmed := strings.TrimSuffix(path, ".bam"); trimmed != path {
		candidates = append(candidates, trimmed+IndexSuffix)
	}
	return candidates
}
