package util

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetResolvedPath_Empty(t *testing.T) {
	p, err := GetResolvedPath("")
	require.NoError(t, err)
	assert.Equal(t, "", p)
}

func TestGetResolvedPath_Tilde(t *testing.T) {
	p, err := GetResolvedPath("~/test.txt")
	require.NoError(t, err)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "test.txt"), p)
}

func TestGetResolvedPath_AbsolutePassesThrough(t *testing.T) {
	p, err := GetResolvedPath("/var/dir/test.txt")
	require.NoError(t, err)
	assert.Equal(t, "/var/dir/test.txt", p)
}

func TestGetResolvedPath_RelativeUsesParentProcessDirWhenSet(t *testing.T) {
	os.Setenv(OVFSParentProcessDir, "/var/generic/ovfs")
	defer os.Unsetenv(OVFSParentProcessDir)

	p, err := GetResolvedPath("test.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/generic/ovfs", "test.txt"), p)
}

func TestGetResolvedPath_RelativeUsesCwdWhenUnset(t *testing.T) {
	p, err := GetResolvedPath("test.txt")
	require.NoError(t, err)
	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "test.txt"), p)
}

type stringifyOK struct {
	Value string
	Inner map[string]int
}

type stringifyErr struct{}

func (stringifyErr) MarshalJSON() ([]byte, error) {
	return nil, errors.New("boom")
}

func TestStringify_Success(t *testing.T) {
	s, err := Stringify(stringifyOK{Value: "x", Inner: map[string]int{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, `{"Value":"x","Inner":{"a":1}}`, s)
}

func TestStringify_MarshalErrorReturnsEmpty(t *testing.T) {
	s, err := Stringify(stringifyErr{})
	assert.Error(t, err)
	assert.Equal(t, "", s)
}

func TestMiBsToBytes(t *testing.T) {
	assert.Equal(t, uint64(0), MiBsToBytes(0))
	assert.Equal(t, uint64(1048576), MiBsToBytes(1))
	assert.Equal(t, uint64(1073741824), MiBsToBytes(1024))
}

func TestBytesToHigherMiBs(t *testing.T) {
	assert.Equal(t, uint64(0), BytesToHigherMiBs(0))
	assert.Equal(t, uint64(1), BytesToHigherMiBs(1))
	assert.Equal(t, uint64(1), BytesToHigherMiBs(1048576))
	assert.Equal(t, uint64(math.MaxUint64>>20+1), BytesToHigherMiBs(math.MaxUint64))
}

func TestIsolateContextFromParentContext(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())

	child, cancelChild := IsolateContextFromParentContext(parent)
	cancelParent()

	assert.NoError(t, child.Err())
	cancelChild()
	assert.ErrorIs(t, child.Err(), context.Canceled)
}
