package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sharedFilesystems are filesystems whose flock(2) is either local to one
// client or emulated, so two workers on different hosts can both hold it.
var sharedFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"afs":    {},
	"ceph":   {},
	"cifs":   {},
	"coda":   {},
	"nfs":    {},
	"smb2":   {},
	"smbfs":  {},
	"webdav": {},
}

// CheckLocalFilesystem returns an error when the pid file at path would live
// on a shared filesystem. Platforms without detection pass.
func CheckLocalFilesystem(path string) error {
	return checkPIDFilesystem(path, detectFilesystemType)
}

func checkPIDFilesystem(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("pid file path is empty")
	}

	// The pid file and its directory may not exist until AcquirePIDLock runs.
	dir, err := existingAncestor(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("resolve pid file directory: %w", err)
	}

	fsType, err := detect(dir)
	if err != nil {
		return fmt.Errorf("detect filesystem of %s: %w", dir, err)
	}
	if isSharedFilesystem(fsType) {
		return fmt.Errorf("pid file %s is on %s; flock does not keep workers on other hosts out. Point worker.pid_file at local disk", path, fsType)
	}
	return nil
}

func existingAncestor(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		info, err := os.Stat(abs)
		switch {
		case err == nil && info.IsDir():
			return abs, nil
		case err == nil:
			return "", fmt.Errorf("%s is not a directory", abs)
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no existing directory above %s", dir)
		}
		abs = parent
	}
}

func isSharedFilesystem(fsType string) bool {
	_, ok := sharedFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return ok
}
