// Configuration file handling ("configuration collaborator"): the device
// list, archive root and destination store options. The sync/mirror
// pipelines treat this state as an opaque, immutable input for one run.
package rvconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/function61/gokit/jsonfile"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
)

const (
	configFilename = "rlogvault-config.json"

	// stay comfortably under e.g. Google Drive's / FAT-formatted media's
	// practical per-folder limits; same default the tool always shipped with
	DefaultShardCapBytes = int64(19) * 1024 * 1024 * 1024 / 10 // 1.9 GiB
)

type Destination struct {
	// Kind is "s3" or "localdir"
	Kind string `json:"kind"`
	// Options for s3: "bucket:region:accessKeyId:secret".
	// For localdir: the destination root path.
	Options string `json:"options"`
	// Folder is the top-level folder at the destination under which
	// device-label folders live.
	Folder        string `json:"folder"`
	ShardCapBytes int64  `json:"shard_cap_bytes"`
}

type Config struct {
	ArchiveRoot string           `json:"archive_root"`
	Devices     []rvtypes.Device `json:"devices"`
	Destination *Destination     `json:"destination,omitempty"`
}

func (c *Config) DeviceByLabel(label string) (*rvtypes.Device, error) {
	for _, dev := range c.Devices {
		if dev.Label == label {
			return &dev, nil
		}
	}

	return nil, fmt.Errorf("no device with label %q in config", label)
}

func Read() (*Config, error) {
	confPath, err := FilePath()
	if err != nil {
		return nil, fmt.Errorf("rlogvault config: %v", err)
	}

	conf := &Config{}
	if err := jsonfile.Read(confPath, conf, true); err != nil {
		return nil, fmt.Errorf("rlogvault config: %v", err)
	}

	if conf.ArchiveRoot == "" {
		return nil, fmt.Errorf("rlogvault config: archive_root not set")
	}

	if conf.Destination != nil && conf.Destination.ShardCapBytes == 0 {
		conf.Destination.ShardCapBytes = DefaultShardCapBytes
	}

	return conf, nil
}

func Write(conf *Config) error {
	confPath, err := FilePath()
	if err != nil {
		return err
	}

	return jsonfile.Write(confPath, conf)
}

func FilePath() (string, error) {
	usersHomeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(usersHomeDirectory, configFilename), nil
}
