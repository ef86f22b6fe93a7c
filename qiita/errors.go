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
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Bodies larger than this are truncated in error messages.
const maximumErrorBodyLength = 1024

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (err *StatusError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("%s %s: unexpected response status %d", err.Method, err.Path, err.Code)
	}
	return fmt.Sprintf("%s %s: unexpected response status %d: %s", err.Method, err.Path, err.Code, err.Message)
}

func errorFromResponse(method, path string, resp *http.Response) error {
	err := &StatusError{Method: method, Path: path, Code: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maximumErrorBodyLength))
	v := make(map[string]interface{})
	if json.Unmarshal(data, &v) == nil {
		for _, key := range []string{"message", "error"} {
			if message, ok := v[key].(string); ok && message != "" {
				err.Message = message
				return err
			}
		}
	}
	err.Message = strings.TrimSpace(string(data))
	if err.Message == "" {
		err.Message = http.StatusText(resp.StatusCode)
	}
	return err
}
