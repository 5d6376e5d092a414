package web

import "time"

// SystemSnapshot is host information shown on the status page so the device
// can be found on the network and its storage watched while recording.
type SystemSnapshot struct {
	Disk    *DiskSnapshot    `json:"disk,omitempty"`
	Network *NetworkSnapshot `json:"network,omitempty"`
}

type DiskSnapshot struct {
	RootPath       string `json:"root_path,omitempty"`
	RootTotalBytes uint64 `json:"root_total_bytes,omitempty"`
	RootFreeBytes  uint64 `json:"root_free_bytes,omitempty"`
	RootAvailBytes uint64 `json:"root_avail_bytes,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

type NetworkSnapshot struct {
	LocalAddrs []string `json:"local_addrs,omitempty"`
}

func snapshotSystem(now time.Time) SystemSnapshot {
	return SystemSnapshot{
		Disk:    snapshotDisk(now),
		Network: snapshotNetwork(now),
	}
}
