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

package plugin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const (
	gzipSuffix  = ".gz"
	indexSuffix = ".bai"
)

// prepare returns a local, uncompressed copy of input: remote files are
// staged into outDir and gzip files are decompressed beside themselves.
func (p *Plugin) prepare(ctx context.Context, input, outDir string) (string, error) {
	path := input
	if p.stager != nil {
		staged, err := p.stager.Stage(ctx, input, outDir)
		if err != nil {
			return "", fmt.Errorf("staging %s: %w", input, err)
		}
		path = staged
	}
	if !strings.HasSuffix(path, gzipSuffix) {
		return path, nil
	}

	target := strings.TrimSuffix(path, gzipSuffix)
	p.logger.Info("Decompressing file", zap.String("path", path), zap.String("target", target))
	if err := gunzip(path, target); err != nil {
		return "", fmt.Errorf("decompressing %s: %w", path, err)
	}
	return target, nil
}

// gunzip decompresses the gzip file at source into target, replacing it
// atomically.
func gunzip(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("reading gzip header: %v", err)
	}
	defer r.Close()

	temporary := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+uuid.New().String())
	out, err := os.Create(temporary)
	if err != nil {
		return err
	}
	defer os.Remove(temporary)

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(temporary, target)
}

func isIndex(path string) bool {
	return strings.HasSuffix(path, indexSuffix)
}
