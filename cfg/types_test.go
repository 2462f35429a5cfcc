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
	"github.com/stretchr/testify/require"
)

func TestOctal_UnmarshalAndMarshal(t *testing.T) {
	var o Octal
	require.NoError(t, o.UnmarshalText([]byte("755")))
	assert.Equal(t, Octal(0o755), o)

	text, err := o.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "755", string(text))
}

func TestBackendScheme_UnmarshalValid(t *testing.T) {
	var s BackendScheme
	require.NoError(t, s.UnmarshalText([]byte("GCS")))
	assert.Equal(t, BackendGCS, s)
}

func TestBackendScheme_UnmarshalInvalid(t *testing.T) {
	var s BackendScheme
	assert.Error(t, s.UnmarshalText([]byte("ftp")))
}

func TestLogSeverity_UnmarshalAndRank(t *testing.T) {
	var l LogSeverity
	require.NoError(t, l.UnmarshalText([]byte("warning")))
	assert.Equal(t, WarningLogSeverity, l)
	assert.Equal(t, 3, l.Rank())
	assert.True(t, TraceLogSeverity.Rank() < InfoLogSeverity.Rank())
}

func TestLogSeverity_UnmarshalInvalid(t *testing.T) {
	var l LogSeverity
	assert.Error(t, l.UnmarshalText([]byte("VERBOSE")))
}

func TestLogSeverity_UnknownRankIsNegativeOne(t *testing.T) {
	assert.Equal(t, -1, LogSeverity("bogus").Rank())
}

func TestResolvedPath_UnmarshalKeepsAbsolutePath(t *testing.T) {
	var p ResolvedPath
	require.NoError(t, p.UnmarshalText([]byte("/already/absolute")))
	assert.Equal(t, ResolvedPath("/already/absolute"), p)
}
