// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendSchemeOf_Valid(t *testing.T) {
	scheme, rest, ok := BackendSchemeOf("gcs://my-bucket/prefix")
	assert.True(t, ok)
	assert.Equal(t, BackendGCS, scheme)
	assert.Equal(t, "my-bucket/prefix", rest)
}

func TestBackendSchemeOf_MissingSeparator(t *testing.T) {
	_, _, ok := BackendSchemeOf("my-bucket")
	assert.False(t, ok)
}

func TestBackendSchemeOf_UnknownScheme(t *testing.T) {
	_, _, ok := BackendSchemeOf("ftp://host/path")
	assert.False(t, ok)
}
