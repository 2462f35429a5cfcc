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

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decodeTarget struct {
	Mode     Octal
	Severity LogSeverity
	Path     ResolvedPath
}

func decode(t *testing.T, input map[string]any) decodeTarget {
	t.Helper()
	var out decodeTarget
	cfg := &mapstructure.DecoderConfig{
		DecodeHook: DecodeHook(),
		Result:     &out,
	}
	dec, err := mapstructure.NewDecoder(cfg)
	require.NoError(t, err)
	require.NoError(t, dec.Decode(input))
	return out
}

func TestDecodeHook_OctalFromString(t *testing.T) {
	out := decode(t, map[string]any{"Mode": "644"})
	assert.Equal(t, Octal(0o644), out.Mode)
}

func TestDecodeHook_LogSeverityUppercases(t *testing.T) {
	out := decode(t, map[string]any{"Severity": "debug"})
	assert.Equal(t, DebugLogSeverity, out.Severity)
}

func TestDecodeHook_ResolvedPathKeepsAbsolutePath(t *testing.T) {
	out := decode(t, map[string]any{"Path": "/abs/path"})
	assert.Equal(t, ResolvedPath("/abs/path"), out.Path)
}
