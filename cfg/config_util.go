// Copyright 2024 Google LLC
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

import "strings"

// BackendSchemeOf extracts the scheme portion of a mount backend URI,
// e.g. "gcs" from "gcs://my-bucket".
func BackendSchemeOf(backendURI string) (BackendScheme, string, bool) {
	scheme, rest, ok := strings.Cut(backendURI, "://")
	if !ok {
		return "", "", false
	}
	var s BackendScheme
	if err := s.UnmarshalText([]byte(scheme)); err != nil {
		return "", "", false
	}
	return s, rest, true
}
