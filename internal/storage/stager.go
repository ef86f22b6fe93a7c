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

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is wrapped by errors for objects that do not exist.
	ErrNotFound = errors.New("object does not exist")
	// ErrPermissionDenied is wrapped by errors for objects that may not be
	// read with the configured credentials.
	ErrPermissionDenied = errors.New("permission denied")

	errInvalidURL = errors.New("invalid object URL")
)

// ParseURL splits a "scheme://bucket/object" URL.  It returns ok == false for
// anything that is not such a URL, including plain local paths.
func ParseURL(input string) (scheme, bucket, object string, ok bool) {
	scheme, rest, found := strings.Cut(input, "://")
	if !found || scheme == "" || strings.ContainsAny(scheme, "/.") {
		return "", "", "", false
	}
	bucket, object, _ = strings.Cut(rest, "/")
	return scheme, bucket, object, true
}

// Stager copies remote objects into a local directory.  Clients are created
// on first use, once per scheme.  The zero value stages nothing but local
// paths; use NewStager to configure schemes.
type Stager struct {
	logger    *zap.Logger
	factories map[string]Factory

	mu      sync.Mutex
	clients map[string]Client
}

// NewStager returns a Stager that resolves URL schemes with factories.
func NewStager(logger *zap.Logger, factories map[string]Factory) *Stager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stager{logger: logger, factories: factories, clients: make(map[string]Client)}
}

// Stage returns the local path of input.  Local paths are returned
// unchanged.  Remote objects are downloaded to dir/SCHEME/BUCKET/OBJECT, so
// objects sharing a base name do not collide and an object stays beside its
// index.
func (s *Stager) Stage(ctx context.Context, input, dir string) (string, error) {
	scheme, bucket, object, ok := ParseURL(input)
	if !ok {
		return input, nil
	}
	local := filepath.Join(scheme, bucket, filepath.FromSlash(object))
	if bucket == "" || object == "" || strings.HasSuffix(object, "/") || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", errInvalidURL, input)
	}

	client, err := s.client(ctx, scheme)
	if err != nil {
		return "", err
	}

	r, err := client.NewObjectHandle(bucket, object).NewRangeReader(ctx, 0, -1)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", input, err)
	}
	defer r.Close()

	target := filepath.Join(dir, local)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("creating staging directory: %v", err)
	}
	temporary := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+"."+uuid.New().String())
	f, err := os.Create(temporary)
	if err != nil {
		return "", fmt.Errorf("creating staging file: %v", err)
	}
	defer os.Remove(temporary)

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return "", fmt.Errorf("downloading %s: %w", input, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing staging file: %v", err)
	}
	if err := os.Rename(temporary, target); err != nil {
		return "", fmt.Errorf("moving staged file into place: %v", err)
	}

	s.logger.Info("Staged remote file",
		zap.String("url", input), zap.String("path", target), zap.Int64("bytes", n))
	return target, nil
}

func (s *Stager) client(ctx context.Context, scheme string) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[scheme]; ok {
		return client, nil
	}
	factory, ok := s.factories[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported storage scheme %q", scheme)
	}
	client, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	if s.clients == nil {
		s.clients = make(map[string]Client)
	}
	s.clients[scheme] = client
	return client, nil
}
