package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapLocalPath(t *testing.T) {
	tests := map[string]string{
		"/sdcard/DCIM/Camera/IMG_1.jpg":              "internal/DCIM/Camera/IMG_1.jpg",
		"/sdcard":                                    "internal",
		"/storage/emulated/0/Download/a.pdf":         "internal/Download/a.pdf",
		"/storage/1A2B-3C4D/DCIM/b.jpg":              "sdcard_1A2B-3C4D/DCIM/b.jpg",
		"/storage/1A2B-3C4D":                         "sdcard_1A2B-3C4D",
		"/storage/emulated/10/x.txt":                 "storage/emulated/10/x.txt",
		"/data/local/tmp/dump.bin":                   "data/local/tmp/dump.bin",
		"sdcard/Music/../Music/song.mp3":             "internal/Music/song.mp3",
		"/sdcardextra/file":                          "sdcardextra/file",
	}
	for in, want := range tests {
		assert.Equal(t, want, MapLocalPath(in), in)
	}
}

func TestWithSuffix(t *testing.T) {
	assert.Equal(t, "a/IMG.jpg", withSuffix("a/IMG.jpg", 0))
	assert.Equal(t, "a/IMG (1).jpg", withSuffix("a/IMG.jpg", 1))
	assert.Equal(t, "README (2)", withSuffix("README", 2))
	assert.Equal(t, "d/.nomedia (1)", withSuffix("d/.nomedia", 1))
	assert.Equal(t, "archive.tar (1).gz", withSuffix("archive.tar.gz", 1))
}

func TestLocalClaims(t *testing.T) {
	c := newLocalClaims(map[string]string{"internal/a.jpg": "/sdcard/a.jpg"})

	assert.Equal(t, "internal/a.jpg", c.assign("internal/a.jpg", "/sdcard/a.jpg"))
	assert.Equal(t, "internal/A (1).JPG", c.assign("internal/A.JPG", "/sdcard/A.JPG"))
	assert.Equal(t, "internal/a (2).jpg", c.assign("internal/a.jpg", "/storage/emulated/0/a.jpg"))
	// Re-assigning the same owner is stable.
	assert.Equal(t, "internal/A (1).JPG", c.assign("internal/A.JPG", "/sdcard/A.JPG"))
}
