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

// Package qiitatest provides an in-process fake of the Qiita plugin REST
// interface for tests.
package qiitatest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/qiita-spots/qtp-bam/qiita"
)

// Credentials accepted by the fake server.
const (
	ClientID     = "test-client-id"
	ClientSecret = "test-client-secret"
	Token        = "test-token"
)

// Patch is a recorded PATCH request.
type Patch struct {
	Path   string
	Op     string
	Target string
	Value  string
}

// CompletedArtifact is an artifact reported with a job completion.
type CompletedArtifact struct {
	Type      string                 `json:"artifact_type"`
	Filepaths [][]string             `json:"filepaths"`
	Archive   map[string]interface{} `json:"archive"`
}

// Completion is a recorded job completion.
type Completion struct {
	Success   bool                         `json:"success"`
	Error     string                       `json:"error"`
	Artifacts map[string]CompletedArtifact `json:"artifacts"`
}

// Server is a fake Qiita server.  Must be created with New.
type Server struct {
	URL string

	mu            sync.Mutex
	jobs          map[string]interface{}
	artifacts     map[string]interface{}
	prepTemplates map[string]interface{}
	steps         map[string][]string
	heartbeats    map[string]int
	completions   map[string]Completion
	patches       []Patch
	artifactTypes []url.Values
	patchError    string
}

// New starts a Server that is shut down when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		jobs:          make(map[string]interface{}),
		artifacts:     make(map[string]interface{}),
		prepTemplates: make(map[string]interface{}),
		steps:         make(map[string][]string),
		heartbeats:    make(map[string]int),
		completions:   make(map[string]Completion),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/qiita_db/authenticate/", s.authenticate)

	api := router.Group("/qiita_db", s.authorize)
	api.GET("/jobs/:id", s.getJob)
	api.POST("/jobs/:id/heartbeat/", s.heartbeat)
	api.POST("/jobs/:id/step/", s.step)
	api.POST("/jobs/:id/complete/", s.complete)
	api.GET("/artifacts/:id/", s.getArtifact)
	api.PATCH("/artifacts/:id/", s.patchArtifact)
	api.POST("/artifacts/types/", s.registerType)
	api.GET("/prep_template/:id/data/", s.getPrepTemplate)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	s.URL = server.URL
	return s
}

// Client returns a qiita.Client authenticated against s.
func (s *Server) Client(t testing.TB) *qiita.Client {
	t.Helper()
	client, err := qiita.NewClient(context.Background(), s.URL, qiita.Options{
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

// AddJob makes job available under id.
func (s *Server) AddJob(id string, job interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = job
}

// AddArtifact makes artifact available under id.
func (s *Server) AddArtifact(id string, artifact interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[id] = artifact
}

// AddPrepTemplate makes the sample data of a preparation template available
// under id.
func (s *Server) AddPrepTemplate(id string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepTemplates[id] = data
}

// FailPatches makes every subsequent PATCH request fail with message.
func (s *Server) FailPatches(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patchError = message
}

// Steps returns the steps reported for a job.
func (s *Server) Steps(jobID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps[jobID]...)
}

// Heartbeats returns how many heartbeats were received for a job.
func (s *Server) Heartbeats(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats[jobID]
}

// Completion returns the completion reported for a job, if any.
func (s *Server) Completion(jobID string) (Completion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.completions[jobID]
	return c, ok
}

// Patches returns the PATCH requests received so far.
func (s *Server) Patches() []Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Patch(nil), s.patches...)
}

// ArtifactTypes returns the forms of artifact type registrations received
// so far.
func (s *Server) ArtifactTypes() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.artifactTypes...)
}

func (s *Server) authenticate(c *gin.Context) {
	if c.PostForm("grant_type") != "client" ||
		c.PostForm("client_id") != ClientID ||
		c.PostForm("client_secret") != ClientSecret {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": Token,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (s *Server) authorize(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid or missing token"})
		return
	}
	c.Next()
}

func (s *Server) lookup(c *gin.Context, objects map[string]interface{}, kind string) {
	s.mu.Lock()
	object, ok := objects[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": kind + " not found"})
		return
	}
	c.JSON(http.StatusOK, object)
}

func (s *Server) getJob(c *gin.Context) {
	s.lookup(c, s.jobs, "job")
}

func (s *Server) getArtifact(c *gin.Context) {
	s.lookup(c, s.artifacts, "artifact")
}

func (s *Server) getPrepTemplate(c *gin.Context) {
	s.mu.Lock()
	data, ok := s.prepTemplates[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "prep template not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (s *Server) heartbeat(c *gin.Context) {
	s.mu.Lock()
	s.heartbeats[c.Param("id")]++
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) step(c *gin.Context) {
	var body struct {
		Step string `json:"step"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	s.steps[c.Param("id")] = append(s.steps[c.Param("id")], body.Step)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) complete(c *gin.Context) {
	var completion Completion
	if err := c.ShouldBindJSON(&completion); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	s.completions[c.Param("id")] = completion
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) patchArtifact(c *gin.Context) {
	patch := Patch{
		Path:   c.Request.URL.Path,
		Op:     c.PostForm("op"),
		Target: c.PostForm("path"),
		Value:  c.PostForm("value"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patchError != "" {
		c.JSON(http.StatusInternalServerError, gin.H{"message": s.patchError})
		return
	}
	s.patches = append(s.patches, patch)
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) registerType(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	s.artifactTypes = append(s.artifactTypes, c.Request.PostForm)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{})
}
