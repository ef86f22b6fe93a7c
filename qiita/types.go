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

package qiita

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Filepath is a file of an artifact together with its filepath type (for
// example "bam" or "directory").  It is encoded as a two element JSON array.
type Filepath struct {
	Path string
	Type string
}

// MarshalJSON encodes f as [path, type].
func (f Filepath) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{f.Path, f.Type})
}

// UnmarshalJSON decodes a [path, type] array.
func (f *Filepath) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decoding filepath: %v", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("filepath has %d elements, want 2", len(pair))
	}
	f.Path, f.Type = pair[0], pair[1]
	return nil
}

// ArtifactInfo describes an artifact produced by a job.  An empty
// OutputName means the job has no named outputs, as is the case for
// validation jobs.
type ArtifactInfo struct {
	OutputName string
	Type       string
	Files      []Filepath
	Archive    map[string]interface{}
}

// NullOutputName is the key used for artifacts without an output name.
const NullOutputName = "null"

type artifactPayload struct {
	Type      string                 `json:"artifact_type"`
	Filepaths []Filepath             `json:"filepaths"`
	Archive   map[string]interface{} `json:"archive"`
}

func artifactsPayload(artifacts []ArtifactInfo) map[string]artifactPayload {
	payload := make(map[string]artifactPayload, len(artifacts))
	for _, a := range artifacts {
		name := a.OutputName
		if name == "" {
			name = NullOutputName
		}
		files := a.Files
		if files == nil {
			files = []Filepath{}
		}
		archive := a.Archive
		if archive == nil {
			archive = map[string]interface{}{}
		}
		payload[name] = artifactPayload{a.Type, files, archive}
	}
	return payload
}

// Job is the description of a processing job returned by the host.
type Job struct {
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
	Status     string                 `json:"status"`
}

// FileList is the list of files of one filepath type of an artifact.  The
// host reports each file either as a plain path or as an object with a
// "filepath" member.
type FileList []string

// UnmarshalJSON accepts both representations of artifact files.
func (l *FileList) UnmarshalJSON(data []byte) error {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decoding file list: %v", err)
	}
	files := make(FileList, 0, len(entries))
	for i, entry := range entries {
		var path string
		if err := json.Unmarshal(entry, &path); err == nil {
			files = append(files, path)
			continue
		}
		var object struct {
			Filepath *string `json:"filepath"`
		}
		if err := json.Unmarshal(entry, &object); err != nil {
			return fmt.Errorf("decoding file %d: %v", i, err)
		}
		if object.Filepath == nil {
			return fmt.Errorf("decoding file %d: %w", i, errMissingFilepath)
		}
		files = append(files, *object.Filepath)
	}
	*l = files
	return nil
}

var errMissingFilepath = errors.New("missing filepath member")

// Artifact is the description of an artifact returned by the host.
type Artifact struct {
	Name  string              `json:"name"`
	Type  string              `json:"type"`
	Files map[string]FileList `json:"files"`
}

// FilepathType describes one kind of file an artifact type accepts.
type FilepathType struct {
	Name     string
	Required bool
}

// MarshalJSON encodes t as [name, required].
func (t FilepathType) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{t.Name, t.Required})
}

// ArtifactType is the static description of an artifact type provided by a
// type plugin.
type ArtifactType struct {
	Name             string
	Description      string
	CanSubmitToEBI   bool
	CanSubmitToVAMPS bool
	IsUserUploadable bool
	FilepathTypes    []FilepathType
}
