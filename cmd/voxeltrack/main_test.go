package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulissebordignon/voxeltrack/internal/config"
	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l5tracks"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, config.DefaultConfigPath, *configPath)
	assert.Equal(t, "ask", *confirmMode)
	assert.Empty(t, *listen)
	assert.Zero(t, *fps)
}

func TestConfirmPolicy(t *testing.T) {
	warn := &l5tracks.SegmentationWarning{Occupied: 300, Total: 1000, Fraction: 0.25}

	yes, err := confirmPolicy("yes", nil, nil)
	require.NoError(t, err)
	assert.True(t, yes(warn))

	no, err := confirmPolicy("no", nil, nil)
	require.NoError(t, err)
	assert.False(t, no(warn))

	_, err = confirmPolicy("maybe", nil, nil)
	assert.Error(t, err)
}

func TestConfirmPolicy_Ask(t *testing.T) {
	warn := &l5tracks.SegmentationWarning{Occupied: 300, Total: 1000, Fraction: 0.25}
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var out bytes.Buffer
			ask, err := confirmPolicy("ask", strings.NewReader(tt.input), &out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ask(warn))
			assert.Contains(t, out.String(), "300 of 1000 voxels occupied")
			assert.Contains(t, out.String(), "Continue tracking?")
		})
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseInto(t *testing.T) {
	diskFull := errors.New("disk full")
	failing := closerFunc(func() error { return diskFull })
	clean := closerFunc(func() error { return nil })

	var err error
	closeInto(&err, clean, "track log")
	assert.NoError(t, err)

	closeInto(&err, failing, "track log")
	require.Error(t, err)
	assert.ErrorIs(t, err, diskFull)
	assert.Contains(t, err.Error(), "close track log")

	runErr := errors.New("run failed")
	err = runErr
	closeInto(&err, failing, "track DB")
	assert.ErrorIs(t, err, runErr, "the original error is kept")
	assert.ErrorIs(t, err, diskFull)
}

func TestCloseInto_TrackLog(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	trackLog, err := l5tracks.OpenTrackLog(fsys, "/data/tracks.log")
	require.NoError(t, err)

	var runErr error
	closeInto(&runErr, trackLog, "track log")
	assert.NoError(t, runErr)
}
