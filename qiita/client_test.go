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

package qiita_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiita-spots/qtp-bam/internal/qiitatest"
	"github.com/qiita-spots/qtp-bam/qiita"
)

func TestClient_Job(t *testing.T) {
	server := qiitatest.New(t)
	server.AddJob("job-1", map[string]interface{}{
		"command":    "Validate",
		"status":     "queued",
		"parameters": map[string]interface{}{"template": 1, "artifact_type": "BAM"},
	})
	client := server.Client(t)
	ctx := context.Background()

	job, err := client.Job(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "Validate", job.Command)
	assert.Equal(t, "queued", job.Status)
	assert.Equal(t, json.Number("1"), job.Parameters["template"])
	assert.Equal(t, "BAM", job.Parameters["artifact_type"])

	require.NoError(t, client.Heartbeat(ctx, "job-1"))
	require.NoError(t, client.UpdateJobStep(ctx, "job-1", "Step 1"))
	require.NoError(t, client.UpdateJobStep(ctx, "job-1", "Step 2"))
	assert.Equal(t, 1, server.Heartbeats("job-1"))
	assert.Equal(t, []string{"Step 1", "Step 2"}, server.Steps("job-1"))
}

func TestClient_JobMissing(t *testing.T) {
	server := qiitatest.New(t)

	_, err := server.Client(t).Job(context.Background(), "nope")
	var status *qiita.StatusError
	require.True(t, errors.As(err, &status), "got %v, want a *qiita.StatusError", err)
	assert.Equal(t, http.StatusNotFound, status.Code)
	assert.Equal(t, "job not found", status.Message)
	assert.Equal(t, "GET /qiita_db/jobs/nope: unexpected response status 404: job not found", err.Error())
}

func TestClient_BadCredentials(t *testing.T) {
	server := qiitatest.New(t)
	client, err := qiita.NewClient(context.Background(), server.URL, qiita.Options{
		ClientID:     qiitatest.ClientID,
		ClientSecret: "wrong",
	})
	require.NoError(t, err)

	_, err = client.Job(context.Background(), "job-1")
	assert.Error(t, err)
}

func TestClient_CompleteJob(t *testing.T) {
	server := qiitatest.New(t)
	client := server.Client(t)
	ctx := context.Background()

	artifacts := []qiita.ArtifactInfo{{
		Type: "BAM",
		Files: []qiita.Filepath{
			{Path: "/data/a.bam", Type: "bam"},
			{Path: "/data/extra", Type: "directory"},
		},
	}}
	require.NoError(t, client.CompleteJob(ctx, "job-1", true, artifacts, ""))
	require.NoError(t, client.CompleteJob(ctx, "job-2", false, nil, "it broke"))

	completion, ok := server.Completion("job-1")
	require.True(t, ok)
	assert.True(t, completion.Success)
	assert.Equal(t, map[string]qiitatest.CompletedArtifact{
		"null": {
			Type:      "BAM",
			Filepaths: [][]string{{"/data/a.bam", "bam"}, {"/data/extra", "directory"}},
			Archive:   map[string]interface{}{},
		},
	}, completion.Artifacts)

	completion, ok = server.Completion("job-2")
	require.True(t, ok)
	assert.False(t, completion.Success)
	assert.Equal(t, "it broke", completion.Error)
	assert.Nil(t, completion.Artifacts)
}

func TestClient_Artifact(t *testing.T) {
	server := qiitatest.New(t)
	server.AddArtifact("7", map[string]interface{}{
		"name": "alignments",
		"type": "BAM",
		"files": map[string]interface{}{
			"bam": []interface{}{
				"/data/a.bam",
				map[string]interface{}{"filepath": "/data/b.bam", "size": 10},
			},
		},
	})
	client := server.Client(t)
	ctx := context.Background()

	artifact, err := client.Artifact(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "alignments", artifact.Name)
	assert.Equal(t, qiita.FileList{"/data/a.bam", "/data/b.bam"}, artifact.Files["bam"])

	require.NoError(t, client.Patch(ctx, qiita.ArtifactPath("7"), "add", "/html_summary/", "/out/artifact_7.html"))
	assert.Equal(t, []qiitatest.Patch{{
		Path:   "/qiita_db/artifacts/7/",
		Op:     "add",
		Target: "/html_summary/",
		Value:  "/out/artifact_7.html",
	}}, server.Patches())

	server.FailPatches("artifact is locked")
	err = client.Patch(ctx, qiita.ArtifactPath("7"), "add", "/html_summary/", "x")
	assert.EqualError(t, err, "PATCH /qiita_db/artifacts/7/: unexpected response status 500: artifact is locked")
}

func TestClient_PrepTemplateData(t *testing.T) {
	server := qiitatest.New(t)
	server.AddPrepTemplate("3", map[string]interface{}{
		"sample.1": map[string]interface{}{"platform": "Illumina"},
	})

	data, err := server.Client(t).PrepTemplateData(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, "Illumina", data["sample.1"]["platform"])
}

func TestClient_RegisterArtifactType(t *testing.T) {
	server := qiitatest.New(t)

	err := server.Client(t).RegisterArtifactType(context.Background(), qiita.ArtifactType{
		Name:             "BAM",
		Description:      "BAM file",
		IsUserUploadable: true,
		FilepathTypes:    []qiita.FilepathType{{"bam", true}, {"directory", false}},
	})
	require.NoError(t, err)

	types := server.ArtifactTypes()
	require.Len(t, types, 1)
	assert.Equal(t, "BAM", types[0].Get("type_name"))
	assert.Equal(t, "BAM file", types[0].Get("description"))
	assert.Equal(t, "false", types[0].Get("can_be_submitted_to_ebi"))
	assert.Equal(t, "false", types[0].Get("can_be_submitted_to_vamps"))
	assert.Equal(t, "true", types[0].Get("is_user_uploadable"))
	assert.Equal(t, `[["bam",true],["directory",false]]`, types[0].Get("filepath_types"))
}

func TestNewClient_InvalidServer(t *testing.T) {
	_, err := qiita.NewClient(context.Background(), "not a url", qiita.Options{})
	assert.Error(t, err)
}

func TestNewClient_MissingCABundle(t *testing.T) {
	_, err := qiita.NewClient(context.Background(), "https://qiita.example.com", qiita.Options{CABundle: "/does/not/exist.pem"})
	assert.Error(t, err)
}

func TestStatusError_PlainBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/qiita_db/authenticate/" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"t","token_type":"Bearer","expires_in":3600}`))
			return
		}
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	client, err := qiita.NewClient(context.Background(), backend.URL, qiita.Options{ClientID: "a", ClientSecret: "b"})
	require.NoError(t, err)

	var v interface{}
	err = client.Get(context.Background(), "/qiita_db/jobs/x", &v)
	var status *qiita.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusServiceUnavailable, status.Code)
	assert.Equal(t, "service unavailable", status.Message)
}
