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
	"os"
	"time"

	"go.uber.org/zap"
)

// Run executes the job jobID: it fetches the job, runs the command it names
// and reports the outcome to the server.  Failures of the command itself
// are reported through the job; the returned error covers only failures to
// talk to the server.
func (p *Plugin) Run(ctx context.Context, host JobHost, jobID, outDir string) error {
	logger := p.logger.With(zap.String("job", jobID))

	job, err := host.Job(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetching job: %w", err)
	}
	if err := host.Heartbeat(ctx, jobID); err != nil {
		return fmt.Errorf("sending heartbeat: %w", err)
	}
	logger.Info("Starting job", zap.String("command", job.Command), zap.String("output", outDir))

	stop := p.startHeartbeat(ctx, host, jobID, logger)
	result, err := p.execute(ctx, host, jobID, job.Command, Parameters(job.Parameters), outDir)
	stop()

	if err != nil {
		logger.Error("Job failed", zap.Error(err))
		result = Failed(fmt.Sprintf("Error executing %s:\n%v", job.Command, err))
	} else if !result.Success {
		logger.Warn("Job completed unsuccessfully", zap.String("error", result.Error))
	}

	if err := host.CompleteJob(ctx, jobID, result.Success, result.Artifacts, result.Error); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	logger.Info("Completed job", zap.Bool("success", result.Success))
	return nil
}

func (p *Plugin) execute(ctx context.Context, host Host, jobID, command string, params Parameters, outDir string) (Result, error) {
	callback, ok := p.Commands()[command]
	if !ok {
		return Result{}, fmt.Errorf("unknown command %q", command)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return Result{}, fmt.Errorf("creating output directory: %v", err)
	}
	return callback(ctx, host, jobID, params, outDir)
}

// startHeartbeat sends heartbeats for jobID until the returned function is
// called.
func (p *Plugin) startHeartbeat(ctx context.Context, host JobHost, jobID string, logger *zap.Logger) func() {
	if p.HeartbeatInterval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := host.Heartbeat(ctx, jobID); err != nil && ctx.Err() == nil {
					logger.Warn("Failed to send heartbeat", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Register declares the artifact types of the plugin to the server.
func (p *Plugin) Register(ctx context.Context, host JobHost) error {
	for _, t := range p.ArtifactTypes() {
		p.logger.Info("Registering artifact type", zap.String("type", t.Name))
		if err := host.RegisterArtifactType(ctx, t); err != nil {
			return fmt.Errorf("registering artifact type %s: %w", t.Name, err)
		}
	}
	return nil
}
