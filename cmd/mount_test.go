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

package cmd

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objfuse/ovfs/internal/fs"
	"github.com/objfuse/ovfs/internal/fuseproto"
	"github.com/objfuse/ovfs/internal/storage/memstore"
	"github.com/objfuse/ovfs/internal/transport"
	"github.com/objfuse/ovfs/internal/vbuffer"
)

func TestOpenBackend_MemScheme(t *testing.T) {
	backend, err := openBackend(context.Background(), "mem://ignored")
	require.NoError(t, err)
	assert.IsType(t, &memstore.Backend{}, backend)
}

func TestOpenBackend_UnknownScheme(t *testing.T) {
	_, err := openBackend(context.Background(), "ftp://bucket")
	assert.Error(t, err)
}

func TestOpenBackend_MissingScheme(t *testing.T) {
	_, err := openBackend(context.Background(), "just-a-bucket-name")
	assert.Error(t, err)
}

func TestResolveID_NegativeUsesFallback(t *testing.T) {
	assert.Equal(t, uint32(99), resolveID(-1, 99))
	assert.Equal(t, uint32(42), resolveID(42, 99))
}

func TestDispatchHandler_DecodesHeaderThenDispatches(t *testing.T) {
	fsys := fs.New(fs.Config{
		Backend:        memstore.NewDefault(),
		WorkerPoolSize: 2,
		Uid:            fuseproto.DefaultUid,
		Gid:            fuseproto.DefaultGid,
		DirMode:        fuseproto.DefaultDirMode,
		FileMode:       fuseproto.DefaultFileMode,
	})

	body := make([]byte, fuseproto.InitInSize)
	body[0] = 7 // major
	body[4] = 38 // minor

	hdrBuf := make([]byte, fuseproto.InHeaderSize)
	binary.LittleEndian.PutUint32(hdrBuf[0:4], uint32(fuseproto.InHeaderSize+len(body)))
	binary.LittleEndian.PutUint32(hdrBuf[4:8], uint32(fuseproto.OpInit))
	binary.LittleEndian.PutUint64(hdrBuf[8:16], 1)

	req := append(hdrBuf, body...)
	r := transport.NewReader([]vbuffer.Slice{{Bytes: req}})
	replyBuf := make([]byte, 256)
	w := transport.NewWriter([]vbuffer.Slice{{Bytes: replyBuf}})

	handler := dispatchHandler(fsys)
	used, err := handler(r, w)
	require.NoError(t, err)
	assert.Greater(t, used, uint64(0))
}
