package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sonodavide/androsync/internal/stats"
)

func TestNewPresenter(t *testing.T) {
	base := Config{Writer: &bytes.Buffer{}, ErrWriter: &bytes.Buffer{}, Stats: stats.NewCollector()}

	quiet := base
	quiet.Quiet = true
	quiet.IsTTY = true
	assert.IsType(t, &quietPresenter{}, NewPresenter(quiet))

	assert.IsType(t, &plainPresenter{}, NewPresenter(base))

	noProgress := base
	noProgress.IsTTY = true
	noProgress.NoProgress = true
	assert.IsType(t, &plainPresenter{}, NewPresenter(noProgress))

	tty := base
	tty.IsTTY = true
	assert.IsType(t, &barPresenter{}, NewPresenter(tty))
}

func TestBarPresenterHoldsFailures(t *testing.T) {
	var bar, out bytes.Buffer
	collector := stats.NewCollector()
	p := &barPresenter{w: &bar, out: &out, stats: collector, width: 80}

	events := make(chan Event, 8)
	events <- Event{Type: PlanReady, Total: 2, TotalSize: 2048}
	events <- Event{Type: FileStarted, Path: "/sdcard/DCIM/a.jpg"}
	events <- Event{Type: FileFailed, Path: "/sdcard/DCIM/a.jpg", Error: assert.AnError}
	close(events)

	assert.NoError(t, p.Run(events))
	assert.NotNil(t, p.bar)
	assert.Contains(t, out.String(), "/sdcard/DCIM/a.jpg  FAILED")
}

func TestBarPresenterWithoutPlan(t *testing.T) {
	var bar, out bytes.Buffer
	p := &barPresenter{w: &bar, out: &out, stats: stats.NewCollector()}

	events := make(chan Event)
	close(events)
	assert.NoError(t, p.Run(events))
	assert.Nil(t, p.bar)
	assert.Empty(t, bar.String())
}

func TestTruncateLeft(t *testing.T) {
	assert.Equal(t, "a.jpg     ", truncateLeft("a.jpg", 10))
	assert.Equal(t, "…/IMG_0001.jpg", truncateLeft("/sdcard/DCIM/Camera/IMG_0001.jpg", 14))
	assert.Len(t, []rune(truncateLeft("/sdcard/DCIM/Camera/IMG_0001.jpg", 14)), 14)
}
