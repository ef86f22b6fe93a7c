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

// Package qiita implements a client for the REST interface a Qiita server
// exposes to its plugins.
package qiita

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	authenticatePath = "/qiita_db/authenticate/"

	formContentType = "application/x-www-form-urlencoded"
	jsonContentType = "application/json"
)

// Options configures a Client.
type Options struct {
	// ClientID and ClientSecret are the OAuth2 credentials of the plugin.
	ClientID     string
	ClientSecret string
	// CABundle optionally names a PEM file with additional certificate
	// authorities trusted for the server.
	CABundle string
	// HTTPClient is used as the base transport when set.
	HTTPClient *http.Client
	// Logger receives debug logs of every request.  It may be nil.
	Logger *zap.Logger
}

// Client performs authenticated requests against a Qiita server.  Must be
// created with NewClient.
type Client struct {
	server string
	http   *http.Client
	logger *zap.Logger
}

// NewClient returns a Client for the Qiita server at server.  Tokens are
// obtained with the OAuth2 client credentials flow on first use.
func NewClient(ctx context.Context, server string, opts Options) (*Client, error) {
	if _, err := url.ParseRequestURI(server); err != nil {
		return nil, fmt.Errorf("parsing server URL: %v", err)
	}
	server = strings.TrimRight(server, "/")

	base := opts.HTTPClient
	if opts.CABundle != "" {
		pem, err := os.ReadFile(opts.CABundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle %q: %v", opts.CABundle, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("initializing system certificate pool: %v", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("adding certificates from bundle %q", opts.CABundle)
		}
		base = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs: pool,
				}},
		}
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}

	config := clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     server + authenticatePath,
		// The server uses its own grant type name for this flow.
		EndpointParams: url.Values{"grant_type": {"client"}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{server, config.Client(ctx), logger}, nil
}

// Get fetches path and decodes the JSON response into v.
func (c *Client) Get(ctx context.Context, path string, v interface{}) error {
	return c.do(ctx, http.MethodGet, path, "", nil, v)
}

// Post sends data to path as a form and decodes the JSON response into v,
// which may be nil.
func (c *Client) Post(ctx context.Context, path string, data url.Values, v interface{}) error {
	return c.do(ctx, http.MethodPost, path, formContentType, strings.NewReader(data.Encode()), v)
}

// PostJSON sends body to path encoded as JSON and decodes the JSON response
// into v, which may be nil.
func (c *Client) PostJSON(ctx context.Context, path string, body, v interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %v", err)
	}
	return c.do(ctx, http.MethodPost, path, jsonContentType, bytes.NewReader(data), v)
}

// Patch applies a single JSON-patch style operation to the resource at path.
func (c *Client) Patch(ctx context.Context, path, op, target, value string) error {
	data := url.Values{
		"op":    {op},
		"path":  {target},
		"value": {value},
	}
	return c.do(ctx, http.MethodPatch, path, formContentType, strings.NewReader(data.Encode()), nil)
}

// UpdateJobStep reports the current step of a running job.
func (c *Client) UpdateJobStep(ctx context.Context, jobID, step string) error {
	c.logger.Info("Job step", zap.String("job", jobID), zap.String("step", step))
	body := map[string]string{"step": step}
	return c.PostJSON(ctx, jobPath(jobID, "step/"), body, nil)
}

// Job fetches the description of a job.
func (c *Client) Job(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.Get(ctx, strings.TrimSuffix(jobPath(jobID, ""), "/"), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Heartbeat tells the server that the job is still running.
func (c *Client) Heartbeat(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, jobPath(jobID, "heartbeat/"), "", nil, nil)
}

// CompleteJob reports the outcome of a job.  Artifacts are only sent for
// successful jobs that produced any; otherwise the member is null.
func (c *Client) CompleteJob(ctx context.Context, jobID string, success bool, artifacts []ArtifactInfo, message string) error {
	c.logger.Info("Completing job", zap.String("job", jobID), zap.Bool("success", success))
	body := struct {
		Success   bool                       `json:"success"`
		Error     string                     `json:"error"`
		Artifacts map[string]artifactPayload `json:"artifacts"`
	}{success, message, nil}
	if success && len(artifacts) > 0 {
		body.Artifacts = artifactsPayload(artifacts)
	}
	return c.PostJSON(ctx, jobPath(jobID, "complete/"), body, nil)
}

// Artifact fetches the description of an artifact.
func (c *Client) Artifact(ctx context.Context, id string) (*Artifact, error) {
	var artifact Artifact
	if err := c.Get(ctx, ArtifactPath(id), &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// PrepTemplateData fetches the contents of a preparation template, keyed by
// sample and then by column.
func (c *Client) PrepTemplateData(ctx context.Context, id string) (map[string]map[string]interface{}, error) {
	var response struct {
		Data map[string]map[string]interface{} `json:"data"`
	}
	if err := c.Get(ctx, "/qiita_db/prep_template/"+url.PathEscape(id)+"/data/", &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// RegisterArtifactType declares an artifact type provided by the plugin.
func (c *Client) RegisterArtifactType(ctx context.Context, t ArtifactType) error {
	types, err := json.Marshal(t.FilepathTypes)
	if err != nil {
		return fmt.Errorf("encoding filepath types: %v", err)
	}
	data := url.Values{
		"type_name":                 {t.Name},
		"description":               {t.Description},
		"can_be_submitted_to_ebi":   {strconv.FormatBool(t.CanSubmitToEBI)},
		"can_be_submitted_to_vamps": {strconv.FormatBool(t.CanSubmitToVAMPS)},
		"is_user_uploadable":        {strconv.FormatBool(t.IsUserUploadable)},
		"filepath_types":            {string(types)},
	}
	return c.Post(ctx, "/qiita_db/artifacts/types/", data, nil)
}

// ArtifactPath returns the REST path of the artifact with the given ID.
func ArtifactPath(id string) string {
	return "/qiita_db/artifacts/" + url.PathEscape(id) + "/"
}

func jobPath(jobID, suffix string) string {
	return "/qiita_db/jobs/" + url.PathEscape(jobID) + "/" + suffix
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.Debug("Sending request", zap.String("method", method), zap.String("path", path))
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(method, path, resp)
	}
	if v == nil {
		return nil
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%s %s: decoding response: %v", method, path, err)
	}
	return nil
}
