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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/qiita-spots/qtp-bam/qiita"
)

// SummaryHeader is the first line of every summary.
const SummaryHeader = "--BAM SUMMARY--\n"

// GenerateHTMLSummary writes the flagstat report of every alignment file of
// the artifact to artifact_{id}.html in outDir and attaches it to the
// artifact as its summary.
func (p *Plugin) GenerateHTMLSummary(ctx context.Context, host Host, jobID string, params Parameters, outDir string) (Result, error) {
	if err := host.UpdateJobStep(ctx, jobID, "Step 1: Gathering information from Qiita"); err != nil {
		return Result{}, err
	}
	id, ok := params.String("input_data")
	if !ok {
		return Result{}, errors.New(`missing parameter "input_data"`)
	}
	logger := p.logger.With(zap.String("job", jobID), zap.String("artifact", id))

	artifact, err := host.Artifact(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("fetching artifact %s: %w", id, err)
	}

	if err := host.UpdateJobStep(ctx, jobID, "Step 2: Generating HTML summary"); err != nil {
		return Result{}, err
	}
	var blocks []string
	for _, entry := range artifact.Files[BAMFilepathType] {
		if isIndex(entry) {
			continue
		}
		path, err := p.prepare(ctx, entry, outDir)
		if err != nil {
			return Result{}, err
		}
		report, err := p.toolkit.Flagstat(ctx, path)
		if err != nil {
			return Result{}, fmt.Errorf("computing statistics of %s: %w", path, err)
		}
		blocks = append(blocks, report)
	}

	summary := filepath.Join(outDir, fmt.Sprintf("artifact_%s.html", id))
	if err := os.WriteFile(summary, []byte(SummaryHeader+strings.Join(blocks, "\n")), 0644); err != nil {
		return Result{}, fmt.Errorf("writing summary: %v", err)
	}
	logger.Info("Wrote summary", zap.String("path", summary), zap.Int("files", len(blocks)))

	if err := host.UpdateJobStep(ctx, jobID, "Step 3: Transferring summary to Qiita"); err != nil {
		return Result{}, err
	}
	if err := host.Patch(ctx, qiita.ArtifactPath(id), "add", "/html_summary/", summary); err != nil {
		return Failed(err.Error()), nil
	}
	return Succeeded(), nil
}
