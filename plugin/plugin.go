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

// Package plugin implements the Qiita type plugin for BAM alignment files:
// the Validate and "Generate HTML summary" commands and the job runner that
// dispatches them.
package plugin

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qiita-spots/qtp-bam/qiita"
)

// Static plugin metadata.
const (
	Name        = "BAM type"
	Version     = "0.0.1 - bam"
	Description = "Qiita Type Plugin: BAM"
)

// Command names the server uses to invoke the callbacks.
const (
	ValidateCommand = "Validate"
	SummaryCommand  = "Generate HTML summary"
)

// Filepath types of BAM artifacts.
const (
	BAMFilepathType       = "bam"
	DirectoryFilepathType = "directory"
)

// BAM is the artifact type provided by the plugin.
var BAM = qiita.ArtifactType{
	Name:             "BAM",
	Description:      "BAM file",
	CanSubmitToEBI:   false,
	CanSubmitToVAMPS: false,
	IsUserUploadable: true,
	FilepathTypes: []qiita.FilepathType{
		{Name: BAMFilepathType, Required: true},
		{Name: DirectoryFilepathType, Required: false},
	},
}

// The interval between heartbeats while a job runs.
const defaultHeartbeatInterval = 30 * time.Second

// Toolkit provides the file level operations on alignment files.
type Toolkit interface {
	// Index writes an index beside the file at path and returns its path.
	Index(ctx context.Context, path string) (string, error)
	// VerifyIndex checks that index is a readable index for path.
	VerifyIndex(ctx context.Context, path, index string) error
	// Quickcheck runs a structural integrity check of path.
	Quickcheck(ctx context.Context, path string) error
	// Flagstat returns the flagstat report of path.
	Flagstat(ctx context.Context, path string) (string, error)
}

// Stager makes remote files available on local disk.
type Stager interface {
	// Stage returns a local path holding the contents of input, using dir
	// for any downloaded copy.
	Stage(ctx context.Context, input, dir string) (string, error)
}

// Host is the part of the server interface used by the callbacks.
type Host interface {
	UpdateJobStep(ctx context.Context, jobID, step string) error
	Artifact(ctx context.Context, id string) (*qiita.Artifact, error)
	PrepTemplateData(ctx context.Context, id string) (map[string]map[string]interface{}, error)
	Patch(ctx context.Context, path, op, target, value string) error
}

// JobHost adds the job protocol calls used by Run and Register.
type JobHost interface {
	Host
	Job(ctx context.Context, jobID string) (*qiita.Job, error)
	Heartbeat(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string, success bool, artifacts []qiita.ArtifactInfo, message string) error
	RegisterArtifactType(ctx context.Context, t qiita.ArtifactType) error
}

// Callback is the signature shared by the plugin commands.
type Callback func(ctx context.Context, host Host, jobID string, params Parameters, outDir string) (Result, error)

// Plugin holds the dependencies of the commands.  Must be created with New.
type Plugin struct {
	toolkit Toolkit
	stager  Stager
	logger  *zap.Logger

	// HeartbeatInterval is the period of heartbeats sent by Run.
	HeartbeatInterval time.Duration
}

// New returns a Plugin that processes files with toolkit and fetches remote
// inputs with stager.  The logger may be nil.
func New(toolkit Toolkit, stager Stager, logger *zap.Logger) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{
		toolkit:           toolkit,
		stager:            stager,
		logger:            logger,
		HeartbeatInterval: defaultHeartbeatInterval,
	}
}

// ArtifactTypes returns the artifact types provided by the plugin.
func (p *Plugin) ArtifactTypes() []qiita.ArtifactType {
	return []qiita.ArtifactType{BAM}
}

// Commands returns the callbacks keyed by command name.
func (p *Plugin) Commands() map[string]Callback {
	return map[string]Callback{
		ValidateCommand: p.Validate,
		SummaryCommand:  p.GenerateHTMLSummary,
	}
}
