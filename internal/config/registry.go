package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/couchcryptid/los-telemetry-service/internal/domain"
	"github.com/spf13/viper"
)

// DefaultRegistryFile is used when DEVICE_REGISTRY_FILE is unset.
const DefaultRegistryFile = "devices.yaml"

// ErrRegistryNotFound is returned when the registry file does not exist.
var ErrRegistryNotFound = errors.New("device registry file not found")

type registryFile struct {
	DefaultPolicy string        `mapstructure:"default_policy"`
	Devices       []deviceEntry `mapstructure:"devices"`
}

type deviceEntry struct {
	Serial      string   `mapstructure:"serial"`
	Topics      []string `mapstructure:"topics"`
	MergePolicy string   `mapstructure:"merge_policy"`
}

// LoadRegistry reads the static device registry. The format is inferred from
// the file extension (YAML, JSON and TOML are accepted).
func LoadRegistry(path string) (*domain.DeviceRegistry, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRegistryNotFound, path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read device registry %s: %w", path, err)
	}

	var file registryFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode device registry %s: %w", path, err)
	}

	defaultPolicy, err := domain.ParseMergePolicy(file.DefaultPolicy)
	if err != nil {
		return nil, fmt.Errorf("device registry default_policy: %w", err)
	}

	devices := make([]domain.Device, 0, len(file.Devices))
	for i, d := range file.Devices {
		policy, err := domain.ParseMergePolicy(d.MergePolicy)
		if err != nil {
			return nil, fmt.Errorf("device registry entry %d (%s): %w", i, d.Serial, err)
		}
		devices = append(devices, domain.Device{
			Serial: d.Serial,
			Topics: d.Topics,
			Policy: policy,
		})
	}

	registry, err := domain.NewDeviceRegistry(defaultPolicy, devices...)
	if err != nil {
		return nil, fmt.Errorf("device registry %s: %w", path, err)
	}
	return registry, nil
}
