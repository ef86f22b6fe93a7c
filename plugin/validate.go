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
	"strings"

	"go.uber.org/zap"

	"github.com/qiita-spots/qtp-bam/internal/toolkit"
	"github.com/qiita-spots/qtp-bam/qiita"
)

// Validate checks the files submitted for a new BAM artifact.  Missing
// indexes are generated beside their alignment files.  On success the
// result carries the artifact to create; the indexes generated on the way
// are not part of it.
func (p *Plugin) Validate(ctx context.Context, host Host, jobID string, params Parameters, outDir string) (Result, error) {
	logger := p.logger.With(zap.String("job", jobID))

	if err := host.UpdateJobStep(ctx, jobID, "Step 1: Collecting information"); err != nil {
		return Result{}, err
	}
	files, err := params.Manifest("files")
	if err != nil {
		return Result{}, err
	}
	artifactType, _ := params.String("artifact_type")
	if template, ok := params.String("template"); ok {
		// The data is unused; an unknown template still fails the job.
		if _, err := host.PrepTemplateData(ctx, template); err != nil {
			return Result{}, fmt.Errorf("fetching preparation template %s: %w", template, err)
		}
	}

	if !strings.EqualFold(artifactType, BAM.Name) {
		return Failed(fmt.Sprintf("Unknown artifact type %s. Supported types: %s", artifactType, BAM.Name)), nil
	}

	if err := host.UpdateJobStep(ctx, jobID, "Step 2: Validating files"); err != nil {
		return Result{}, err
	}

	entries := make([]string, 0, len(files[BAMFilepathType]))
	present := make(map[string]bool)
	var alignments []string
	for _, entry := range files[BAMFilepathType] {
		path, err := p.prepare(ctx, entry, outDir)
		if err != nil {
			return Result{}, err
		}
		entries = append(entries, path)
		present[path] = true
		if !isIndex(path) {
			alignments = append(alignments, path)
		}
	}
	if len(alignments) == 0 {
		return Failed(fmt.Sprintf("No alignment file provided; the filepath type %q is required", BAMFilepathType)), nil
	}

	for _, path := range alignments {
		index := ""
		for _, candidate := range toolkit.IndexCandidates(path) {
			if present[candidate] {
				index = candidate
				break
			}
		}

		if index == "" {
			generated, err := p.toolkit.Index(ctx, path)
			if err != nil {
				if ctx.Err() != nil {
					return Result{}, ctx.Err()
				}
				return Failed(fmt.Sprintf("Error generating index for %s: %v", path, err)), nil
			}
			logger.Info("Generated index", zap.String("path", path), zap.String("index", generated))
			continue
		}
		if err := p.toolkit.VerifyIndex(ctx, path, index); err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Failed(fmt.Sprintf("Unable to read index %s for %s: %v", index, path, err)), nil
		}
	}

	for _, path := range alignments {
		if err := p.toolkit.Quickcheck(ctx, path); err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Failed(fmt.Sprintf("%s failed the integrity check: %v", path, err)), nil
		}
	}

	filepaths := make([]qiita.Filepath, 0, len(entries)+len(files[DirectoryFilepathType]))
	for _, path := range entries {
		filepaths = append(filepaths, qiita.Filepath{Path: path, Type: BAMFilepathType})
	}
	for _, path := range files[DirectoryFilepathType] {
		filepaths = append(filepaths, qiita.Filepath{Path: path, Type: DirectoryFilepathType})
	}
	logger.Info("Validated files", zap.Int("alignments", len(alignments)))
	return Succeeded(qiita.ArtifactInfo{Type: BAM.Name, Files: filepaths}), nil
}
