package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const maxCollisionSuffix = 10000

// SafeFileName reduces a peer-supplied name to its last path element.
// Both '/' and '\' count as separators regardless of platform.
func SafeFileName(name string) (string, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	base := path.Base(cleaned)
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: unusable file name %q", ErrMalformedHandshake, name)
	}
	if strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("%w: file name contains NUL", ErrMalformedHandshake)
	}
	return base, nil
}

// UniquePath returns dir/name, or dir/<stem>_<unix><ext> when that exists,
// adding _<n> after the timestamp until the name is free. Existing files are
// never overwritten.
func UniquePath(dir, name string, now time.Time) (string, error) {
	candidate := filepath.Join(dir, name)
	free, err := isFree(candidate)
	if err != nil || free {
		return candidate, err
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		// dotfiles like ".profile"
		stem, ext = name, ""
	}

	ts := now.Unix()
	for i := 0; i < maxCollisionSuffix; i++ {
		next := fmt.Sprintf("%s_%d%s", stem, ts, ext)
		if i > 0 {
			next = fmt.Sprintf("%s_%d_%d%s", stem, ts, i, ext)
		}
		candidate = filepath.Join(dir, next)
		free, err := isFree(candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for %q", ErrLocalIO, name)
}

func isFree(p string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	return false, fmt.Errorf("%w: failed to stat %s: %w", ErrLocalIO, p, err)
}
