package devicelink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatLines(t *testing.T) {
	out := []byte(`directory|4096|1700000000|/sdcard//DCIM
regular file|12|1700000100|/sdcard//notes | draft.txt
regular empty file|0|1700000200|/sdcard//.nomedia
symbolic link|7|1700000000|/sdcard//link
character special file|0|1700000000|/sdcard//tty
garbage line
regular file|x|1700000000|/sdcard//bad-size
`)
	entries := parseStatLines("/sdcard", out)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{Name: "DCIM", Path: "/sdcard/DCIM", Mtime: time.Unix(1700000000, 0).UTC(), IsDir: true}, entries[0])
	assert.Equal(t, "notes | draft.txt", entries[1].Name)
	assert.Equal(t, "/sdcard/notes | draft.txt", entries[1].Path)
	assert.Equal(t, uint64(12), entries[1].Size)
	assert.Equal(t, ".nomedia", entries[2].Name)
	assert.Equal(t, uint64(0), entries[2].Size)
}

func TestParseADBVersion(t *testing.T) {
	v, err := parseADBVersion("Android Debug Bridge version 1.0.41\nVersion 34.0.5-10900879\n")
	require.NoError(t, err)
	assert.Equal(t, "1.0.41", v.String())
	assert.False(t, v.LessThan(MinADBVersion))

	old, err := parseADBVersion("Android Debug Bridge version 1.0.32\n")
	require.NoError(t, err)
	assert.True(t, old.LessThan(MinADBVersion))

	_, err = parseADBVersion("command not found")
	assert.Error(t, err)
}

func TestParseDevices(t *testing.T) {
	out := `* daemon not running; starting now at tcp:5037
* daemon started successfully
List of devices attached
R58M123ABC             device usb:1-1 product:o1sxeea model:SM_G991B device:o1s transport_id:3
emulator-5554          unauthorized transport_id:1

`
	devices := parseDevices(out)
	require.Len(t, devices, 2)
	assert.Equal(t, Device{Serial: "R58M123ABC", State: "device", Model: "SM G991B", Product: "o1sxeea", Transport: "3"}, devices[0])
	assert.True(t, devices[0].Ready())
	assert.False(t, devices[1].Ready())
}

func TestPickDevice(t *testing.T) {
	ready := Device{Serial: "A", State: "device"}
	other := Device{Serial: "B", State: "device"}
	unauth := Device{Serial: "C", State: "unauthorized"}

	d, err := pickDevice([]Device{ready, unauth}, "")
	require.NoError(t, err)
	assert.Equal(t, "A", d.Serial)

	_, err = pickDevice([]Device{ready, other}, "")
	assert.ErrorContains(t, err, "--serial")

	d, err = pickDevice([]Device{ready, other}, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", d.Serial)

	_, err = pickDevice([]Device{unauth}, "C")
	k, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, Unreachable, k)

	_, err = pickDevice(nil, "")
	assert.Error(t, err)
}

func TestDeniedPaths(t *testing.T) {
	stderr := "find: '/sdcard/Android/data/': Permission denied\nfind: /sdcard/secret: Permission denied\nsomething else\n"
	assert.Equal(t, []string{"/sdcard/Android/data/", "/sdcard/secret"}, deniedPaths(stderr))
	assert.True(t, dirDenied(stderr, "/sdcard/secret/"))
	assert.False(t, dirDenied(stderr, "/sdcard"))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'/sdcard/it'\''s here'`, shellQuote("/sdcard/it's here"))
}

func TestParseStorageRoots(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want []string
	}{
		{
			name: "internal only",
			out:  "/storage/emulated/0\n/storage/emulated|/storage/emulated\n/storage/self|/storage/self\n",
			want: []string{"/sdcard"},
		},
		{
			name: "sd card",
			out:  "/storage/emulated/0\n/storage/1234-ABCD|/mnt/media_rw/1234-ABCD\n/storage/emulated|/storage/emulated\n/storage/self|/storage/self\n",
			want: []string{"/sdcard", "/storage/1234-ABCD"},
		},
		{
			name: "aliases collapse",
			out:  "/storage/emulated/0\n/storage/1234-ABCD|/mnt/media_rw/1234-ABCD\n/storage/sdcard1|/mnt/media_rw/1234-ABCD\n/storage/primary|/storage/emulated/0\n",
			want: []string{"/sdcard", "/storage/1234-ABCD"},
		},
		{
			name: "readlink missing",
			out:  "/storage/ABCD-0001|\n/storage/emulated/0|\n",
			want: []string{"/sdcard", "/storage/ABCD-0001"},
		},
		{
			name: "unreadable storage",
			out:  "/data/media/0\n/storage/*|\n",
			want: []string{"/sdcard"},
		},
		{
			name: "empty",
			out:  "",
			want: []string{"/sdcard"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseStorageRoots([]byte(tt.out)))
		})
	}
}
