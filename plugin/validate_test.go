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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiita-spots/qtp-bam/internal/bamtest"
	"github.com/qiita-spots/qtp-bam/internal/qiitatest"
	"github.com/qiita-spots/qtp-bam/internal/storage"
	"github.com/qiita-spots/qtp-bam/internal/toolkit"
	"github.com/qiita-spots/qtp-bam/qiita"
)

const testJob = "job-1"

// copyStager stages "gs://" URLs by copying the local files registered for
// them.
type copyStager map[string]string

func (s copyStager) Stage(ctx context.Context, input, dir string) (string, error) {
	source, ok := s[input]
	if !ok {
		return input, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return "", err
	}
	target := filepath.Join(dir, filepath.Base(strings.TrimPrefix(input, "gs://")))
	return target, os.WriteFile(target, data, 0644)
}

func newTestPlugin(stager Stager) *Plugin {
	return New(toolkit.New(nil), stager, nil)
}

func manifest(t *testing.T, m Manifest) string {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return string(data)
}

func validateParams(t *testing.T, artifactType string, m Manifest) Parameters {
	return Parameters{
		"files":         manifest(t, m),
		"artifact_type": artifactType,
	}
}

func TestValidate_UnknownType(t *testing.T) {
	server := qiitatest.New(t)

	result, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob,
		validateParams(t, "FASTQ", Manifest{"bam": {"/does/not/matter.bam"}}), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Failed("Unknown artifact type FASTQ. Supported types: BAM"), result)
	assert.Equal(t, []string{"Step 1: Collecting information"}, server.Steps(testJob))
}

func TestValidate_EndToEnd(t *testing.T) {
	server := qiitatest.New(t)
	server.AddPrepTemplate("1", map[string]interface{}{"s1": map[string]interface{}{"platform": "Illumina"}})
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bam")
	bamtest.WriteFile(t, path, bamtest.Standard())

	params := validateParams(t, "BAM", Manifest{"bam": {path}})
	params["template"] = json.Number("1")
	result, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob, params, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Succeeded(qiita.ArtifactInfo{
		Type:  "BAM",
		Files: []qiita.Filepath{{Path: path, Type: "bam"}},
	}), result)
	assert.FileExists(t, path+".bai")
	assert.Equal(t, []string{"Step 1: Collecting information", "Step 2: Validating files"}, server.Steps(testJob))
}

func TestValidate_CaseInsensitiveType(t *testing.T) {
	server := qiitatest.New(t)
	path := filepath.Join(t.TempDir(), "file.bam")
	bamtest.WriteFile(t, path, bamtest.Standard())

	params := Parameters{
		"files":         map[string]interface{}{"bam": []interface{}{path}},
		"artifact_type": "bam",
	}
	result, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob, params, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Success, result.Error)
	assert.Equal(t, "BAM", result.Artifacts[0].Type)
}

func TestValidate_MissingTemplate(t *testing.T) {
	server := qiitatest.New(t)
	params := validateParams(t, "BAM", Manifest{"bam": {"/x.bam"}})
	params["template"] = "99"

	_, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob, params, t.TempDir())
	assert.Error(t, err)
}

func TestValidate_MissingFiles(t *testing.T) {
	server := qiitatest.New(t)

	_, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob,
		Parameters{"artifact_type": "BAM"}, t.TempDir())
	assert.Error(t, err)
}

func TestValidate_NoAlignment(t *testing.T) {
	server := qiitatest.New(t)

	for _, m := range []Manifest{{}, {"bam": {}}, {"bam": {"/data/x.bam.bai"}}} {
		result, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob,
			validateParams(t, "BAM", m), t.TempDir())
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Nil(t, result.Artifacts)
		assert.Contains(t, result.Error, `"bam" is required`)
	}
}

func TestValidate_IndexFailure(t *testing.T) {
	server := qiitatest.New(t)
	path := filepath.Join(t.TempDir(), "file.bam")
	bamtest.WriteFileOrder(t, path, "queryname", bamtest.Standard())

	result, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob,
		validateParams(t, "BAM", Manifest{"bam": {path}}), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Failed("Error generating index for "+path+": file is sorted by queryname, not by coordinate"), result)
	assert.NoFileExists(t, path+".bai")
}

func TestValidate_SuppliedIndex(t *testing.T) {
	server := qiitatest.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bam")
	bamtest.WriteFile(t, path, bamtest.Standard())
	generated, err := toolkit.New(nil).Index(context.Background(), path)
	require.NoError(t, err)
	index := filepath.Join(dir, "file.bai")
	require.NoError(t, os.Rename(generated, index))

	result, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob,
		validateParams(t, "BAM", Manifest{"bam": {path, index}, "directory": {dir}}), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Succeeded(qiita.ArtifactInfo{
		Type: "BAM",
		Files: []qiita.Filepath{
			{Path: path, Type: "bam"},
			{Path: index, Type: "bam"},
			{Path: dir, Type: "directory"},
		},
	}), result)
	assert.NoFileExists(t, path+".bai")
}

func TestValidate_UnreadableIndex(t *testing.T) {
	testCases := []struct {
		name  string
		index []byte
	}{
		{"not an index", []byte("not an index")},
		// One reference, no bins and a linear index claiming 2^31-1 entries.
		{"oversized interval count", []byte("BAI\x01\x01\x00\x00\x00\x00\x00\x00\x00\xff\xff\xff\x7f")},
		{"oversized bin count", []byte("BAI\x01\x01\x00\x00\x00\xff\xff\xff\x7f")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := qiitatest.New(t)
			dir := t.TempDir()
			path := filepath.Join(dir, "file.bam")
			bamtest.WriteFile(t, path, bamtest.Standard())
			index := path + ".bai"
			require.NoError(t, os.WriteFile(index, tc.index, 0644))

			result, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob,
				validateParams(t, "BAM", Manifest{"bam": {path, index}}), t.TempDir())
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Nil(t, result.Artifacts)
			assert.True(t, strings.HasPrefix(result.Error, "Unable to read index "+index+" for "+path+": "), result.Error)
		})
	}
}

func TestValidate_IntegrityFailure(t *testing.T) {
	server := qiitatest.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bam")
	bamtest.WriteFile(t, path, bamtest.Standard())
	index, err := toolkit.New(nil).Index(context.Background(), path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-28], 0644))

	result, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob,
		validateParams(t, "BAM", Manifest{"bam": {path, index}}), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Failed(path+" failed the integrity check: "+path+" was missing EOF block when one should be present."), result)
}

func TestValidate_Gzip(t *testing.T) {
	server := qiitatest.New(t)
	dir := t.TempDir()
	var raw bytes.Buffer
	require.NoError(t, bamtest.Write(&raw, "coordinate", bamtest.Standard()))

	compressed := filepath.Join(dir, "file.bam.gz")
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(compressed, buf.Bytes(), 0644))

	result, err := newTestPlugin(nil).Validate(context.Background(), server.Client(t), testJob,
		validateParams(t, "BAM", Manifest{"bam": {compressed}}), t.TempDir())
	require.NoError(t, err)

	path := filepath.Join(dir, "file.bam")
	assert.Equal(t, Succeeded(qiita.ArtifactInfo{
		Type:  "BAM",
		Files: []qiita.Filepath{{Path: path, Type: "bam"}},
	}), result)
	decompressed, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw.Bytes(), decompressed)
	assert.FileExists(t, path+".bai")
}

func TestValidate_Remote(t *testing.T) {
	server := qiitatest.New(t)
	source := filepath.Join(t.TempDir(), "source.bam")
	bamtest.WriteFile(t, source, bamtest.Standard())
	outDir := t.TempDir()

	stager := copyStager{"gs://bucket/runs/file.bam": source}
	result, err := newTestPlugin(stager).Validate(context.Background(), server.Client(t), testJob,
		validateParams(t, "BAM", Manifest{"bam": {"gs://bucket/runs/file.bam"}}), outDir)
	require.NoError(t, err)

	path := filepath.Join(outDir, "file.bam")
	assert.Equal(t, Succeeded(qiita.ArtifactInfo{
		Type:  "BAM",
		Files: []qiita.Filepath{{Path: path, Type: "bam"}},
	}), result)
	assert.FileExists(t, path+".bai")
}

type memoryStore map[string][]byte

func (s memoryStore) NewObjectHandle(bucket, object string) storage.ObjectHandle {
	return memoryObject(s[bucket+"/"+object])
}

type memoryObject []byte

func (o memoryObject) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if o == nil {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(o)), nil
}

func TestValidate_RemoteSameBaseName(t *testing.T) {
	server := qiitatest.New(t)
	var first, second bytes.Buffer
	require.NoError(t, bamtest.Write(&first, "coordinate", bamtest.Standard()))
	require.NoError(t, bamtest.Write(&second, "coordinate", bamtest.Standard()[:6]))
	stager := storage.NewStager(nil, map[string]storage.Factory{
		"gs": func(ctx context.Context) (storage.Client, error) {
			return memoryStore{"a/x/file.bam": first.Bytes()}, nil
		},
		"s3": func(ctx context.Context) (storage.Client, error) {
			return memoryStore{"b/y/file.bam": second.Bytes()}, nil
		},
	})
	outDir := t.TempDir()

	result, err := newTestPlugin(stager).Validate(context.Background(), server.Client(t), testJob,
		validateParams(t, "BAM", Manifest{"bam": {"gs://a/x/file.bam", "s3://b/y/file.bam"}}), outDir)
	require.NoError(t, err)

	gcs := filepath.Join(outDir, "gs", "a", "x", "file.bam")
	s3 := filepath.Join(outDir, "s3", "b", "y", "file.bam")
	assert.Equal(t, Succeeded(qiita.ArtifactInfo{
		Type:  "BAM",
		Files: []qiita.Filepath{{Path: gcs, Type: "bam"}, {Path: s3, Type: "bam"}},
	}), result)
	assert.FileExists(t, gcs+".bai")
	assert.FileExists(t, s3+".bai")

	data, err := os.ReadFile(s3)
	require.NoError(t, err)
	assert.Equal(t, second.Bytes(), data)
}
