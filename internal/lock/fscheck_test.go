package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(fsType string, seen *string) func(string) (string, error) {
	return func(dir string) (string, error) {
		if seen != nil {
			*seen = dir
		}
		return fsType, nil
	}
}

func TestCheckPIDFilesystem(t *testing.T) {
	tests := []struct {
		name    string
		fsType  string
		wantErr bool
	}{
		{name: "ext4 magic", fsType: "0xef53"},
		{name: "tmpfs magic", fsType: "0x1021994"},
		{name: "apfs", fsType: "apfs"},
		{name: "unknown platform", fsType: ""},
		{name: "nfs", fsType: "nfs", wantErr: true},
		{name: "ceph", fsType: "ceph", wantErr: true},
		{name: "smb upper case", fsType: "SMBFS", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "forkboot.pid")
			err := checkPIDFilesystem(path, fixedFS(tt.fsType, nil))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), path)
			assert.Contains(t, err.Error(), "worker.pid_file")
		})
	}
}

func TestCheckPIDFilesystemInspectsDirectoryBeforeCreation(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "run", "forkboot", "worker.pid")

	var seen string
	require.NoError(t, checkPIDFilesystem(path, fixedFS("0xef53", &seen)))
	assert.Equal(t, root, seen, "the nearest existing directory decides")
	_, err := os.Stat(filepath.Join(root, "run"))
	assert.True(t, os.IsNotExist(err), "the check must not create directories")
}

func TestCheckPIDFilesystemRejectsFileAsDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := checkPIDFilesystem(filepath.Join(blocker, "forkboot.pid"), fixedFS("0xef53", nil))
	assert.ErrorContains(t, err, "not a directory")
}

func TestCheckPIDFilesystemDetectError(t *testing.T) {
	err := checkPIDFilesystem(filepath.Join(t.TempDir(), "forkboot.pid"), func(string) (string, error) {
		return "", errors.New("statfs failed")
	})
	assert.ErrorContains(t, err, "statfs failed")
}
