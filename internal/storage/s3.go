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

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures access to an S3 compatible object store.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	// Insecure selects plain HTTP instead of HTTPS.
	Insecure bool
}

// S3Client is Client for accessing S3 compatible storage.
type S3Client struct {
	*minio.Client
}

// NewS3Client returns an S3Client for the store described by opts.
func NewS3Client(opts S3Options) (S3Client, error) {
	if opts.Endpoint == "" {
		return S3Client{}, errors.New("no S3 endpoint configured")
	}
	creds := credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	if opts.AccessKey == "" {
		creds = credentials.NewStatic("", "", "", credentials.SignatureAnonymous)
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: !opts.Insecure,
		Region: opts.Region,
	})
	if err != nil {
		return S3Client{}, fmt.Errorf("creating S3 client: %v", err)
	}
	return S3Client{client}, nil
}

// NewS3Factory returns a Factory for "s3" URLs.
func NewS3Factory(opts S3Options) Factory {
	return func(ctx context.Context) (Client, error) {
		return NewS3Client(opts)
	}
}

// NewObjectHandle returns a handle to a specified object in the
// storage engine.
func (c S3Client) NewObjectHandle(bucket, object string) ObjectHandle {
	return s3ObjectHandle{c.Client, bucket, object}
}

type s3ObjectHandle struct {
	client *minio.Client
	bucket string
	object string
}

func (h s3ObjectHandle) NewRangeReader(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	var opts minio.GetObjectOptions
	switch {
	case length == 0:
		return io.NopCloser(eofReader{}), nil
	case length > 0:
		if err := opts.SetRange(offset, offset+length-1); err != nil {
			return nil, err
		}
	case offset > 0:
		if err := opts.SetRange(offset, 0); err != nil {
			return nil, err
		}
	}

	object, err := h.client.GetObject(ctx, h.bucket, h.object, opts)
	if err != nil {
		return nil, newS3Error(err)
	}
	// GetObject is lazy; Stat surfaces missing objects before any data is
	// consumed.
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, newS3Error(err)
	}
	return object, nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func newS3Error(err error) error {
	switch minio.ToErrorResponse(err).StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
