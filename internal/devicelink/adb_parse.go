package devicelink

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
)

// parseStatLines decodes "%F|%s|%Y|%n" lines. Lines that do not parse and
// entries that are neither regular files nor directories are dropped.
func parseStatLines(dir string, out []byte) []Entry {
	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		e, ok := parseStatLine(dir, sc.Text())
		if ok {
			entries = append(entries, e)
		}
	}
	return entries
}

func parseStatLine(dir, line string) (Entry, bool) {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return Entry{}, false
	}
	kind, sizeStr, mtimeStr, name := parts[0], parts[1], parts[2], parts[3]

	var isDir bool
	switch kind {
	case "directory":
		isDir = true
	case "regular file", "regular empty file":
	default:
		return Entry{}, false
	}

	size, err := strconv.ParseUint(sizeStr, 10, 64)
	if err != nil {
		return Entry{}, false
	}
	secs, err := strconv.ParseInt(mtimeStr, 10, 64)
	if err != nil {
		return Entry{}, false
	}

	base := path.Base(strings.TrimRight(name, "/"))
	if base == "." || base == "/" || base == "" {
		return Entry{}, false
	}
	e := Entry{
		Name:  base,
		Path:  path.Join(dir, base),
		Mtime: time.Unix(secs, 0).UTC(),
		IsDir: isDir,
	}
	if !isDir {
		e.Size = size
	}
	return e, true
}

var adbVersionRE = regexp.MustCompile(`Android Debug Bridge version ([0-9][0-9.]*)`)

func parseADBVersion(out string) (*version.Version, error) {
	m := adbVersionRE.FindStringSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("unrecognized adb version output %q", strings.TrimSpace(out))
	}
	return version.NewVersion(m[1])
}

// parseDevices decodes `adb devices -l`:
//
//	List of devices attached
//	R58M123ABC  device usb:1-1 product:o1sxeea model:SM_G991B device:o1s transport_id:3
func parseDevices(out string) []Device {
	var devices []Device
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := Device{Serial: fields[0], State: fields[1]}
		for _, f := range fields[2:] {
			k, v, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			switch k {
			case "model":
				d.Model = strings.ReplaceAll(v, "_", " ")
			case "product":
				d.Product = v
			case "transport_id":
				d.Transport = v
			}
		}
		devices = append(devices, d)
	}
	return devices
}

// parseStorageRoots decodes rootsScript output. /sdcard always comes first;
// emulated and self are skipped, as is any volume resolving to a path
// already seen.
func parseStorageRoots(out []byte) []string {
	roots := []string{"/sdcard"}
	seen := map[string]bool{"/sdcard": true}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	primary := "/storage/emulated/0"
	if len(lines) > 0 && !strings.Contains(lines[0], "|") {
		if real := strings.TrimSpace(lines[0]); real != "" {
			primary = real
		}
		lines = lines[1:]
	}
	seen[primary] = true

	for _, line := range lines {
		vol, real, _ := strings.Cut(strings.TrimSpace(line), "|")
		if !strings.HasPrefix(vol, "/storage/") {
			continue
		}
		switch path.Base(vol) {
		case "emulated", "self", "*":
			continue
		}
		if real == "" {
			real = vol
		}
		if seen[vol] || seen[real] {
			continue
		}
		seen[vol], seen[real] = true, true
		roots = append(roots, vol)
	}
	return roots
}
