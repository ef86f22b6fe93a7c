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
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/qiita-spots/qtp-bam/qiita"
)

// Manifest maps a filepath type to the ordered paths of that type.
type Manifest map[string][]string

// Parameters are the parameter values of a job.
type Parameters map[string]interface{}

// String returns the parameter key as a string.  Numbers are formatted
// without a fractional part when they have none.
func (p Parameters) String(key string) (string, bool) {
	switch v := p[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

// Manifest decodes the parameter key, which holds a manifest either as a
// JSON document or as an inline object.
func (p Parameters) Manifest(key string) (Manifest, error) {
	value, ok := p[key]
	if !ok || value == nil {
		return nil, fmt.Errorf("missing parameter %q", key)
	}

	data, ok := value.(string)
	if !ok {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding parameter %q: %v", key, err)
		}
		data = string(encoded)
	}

	var manifest Manifest
	if err := json.Unmarshal([]byte(data), &manifest); err != nil {
		return nil, fmt.Errorf("decoding parameter %q: %v", key, err)
	}
	return manifest, nil
}

// Result is the outcome of a command.
type Result struct {
	Success   bool
	Artifacts []qiita.ArtifactInfo
	Error     string
}

// Succeeded returns a successful Result carrying artifacts.
func Succeeded(artifacts ...qiita.ArtifactInfo) Result {
	return Result{Success: true, Artifacts: artifacts}
}

// Failed returns a failed Result with the given message.
func Failed(message string) Result {
	return Result{Error: message}
}
