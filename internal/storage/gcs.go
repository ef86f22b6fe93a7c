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
	"net/http"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSClient is Client for accessing Google Cloud Storage.
type GCSClient struct {
	*storage.Client
}

// NewObjectHandle returns a handle to a specified object in the
// storage engine.
func (c GCSClient) NewObjectHandle(bucket, object string) ObjectHandle {
	return gcsObjectHandle{c.Bucket(bucket).Object(object)}
}

type gcsObjectHandle struct {
	*storage.ObjectHandle
}

func (h gcsObjectHandle) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	r, err := h.ObjectHandle.NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, newGCSError(err)
	}
	return r, nil
}

var (
	defaultStorageClient           *storage.Client
	defaultStorageClientError      error
	initializeDefaultStorageClient sync.Once
)

// GCSOptions selects how the GCS client authenticates.
type GCSOptions struct {
	// CredentialsFile names a service account key file.  When empty the
	// application default credentials are used.
	CredentialsFile string
	// Anonymous disables authentication, allowing only public objects to be
	// read.
	Anonymous bool
}

// NewGCSFactory returns a Factory for "gs" URLs.  The underlying storage
// client is created once per process and cached for efficiency.
func NewGCSFactory(opts GCSOptions) Factory {
	var options []option.ClientOption
	switch {
	case opts.Anonymous:
		options = append(options, option.WithHTTPClient(http.DefaultClient))
	case opts.CredentialsFile != "":
		options = append(options, option.WithCredentialsFile(opts.CredentialsFile))
	}
	return func(ctx context.Context) (Client, error) {
		initializeDefaultStorageClient.Do(func() {
			defaultStorageClient, defaultStorageClientError = storage.NewClient(context.Background(), options...)
		})
		if defaultStorageClientError != nil {
			return nil, fmt.Errorf("creating GCS client: %v", defaultStorageClientError)
		}
		return GCSClient{defaultStorageClient}, nil
	}
}

func newGCSError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}
