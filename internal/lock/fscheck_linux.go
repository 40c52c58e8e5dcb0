//go:build linux

package lock

import (
	"fmt"
	"syscall"
)

// statfs f_type values of shared filesystems, from linux/magic.h.
var linuxSharedMagic = map[uint64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0x00C36400: "ceph",
	0x5346414F: "afs",
	0x01021997: "9p",
	0x73757245: "coda",
}

// detectFilesystemType names shared filesystems; local ones come back as
// their hex magic, which is enough to tell them apart.
func detectFilesystemType(dir string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return "", err
	}
	magic := uint64(st.Type) & 0xFFFFFFFF
	if name, ok := linuxSharedMagic[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
