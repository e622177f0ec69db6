package device

import (
	"fmt"
	"runtime"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// LoadProfile reads a device profile file (JSON or YAML, decided by the
// file extension) into an Info. Fields the profile leaves empty fall back
// to values probed from the runtime.
func LoadProfile(path string) (Info, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("device.name", "autostudio-device")
	v.SetDefault("processor.architecture", runtime.GOARCH)
	v.SetDefault("processor.cores", runtime.NumCPU())

	if err := v.ReadInConfig(); err != nil {
		return Info{}, fmt.Errorf("read device profile %s: %w", path, err)
	}

	var info Info
	err := v.Unmarshal(&info, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	})
	if err != nil {
		return Info{}, fmt.Errorf("decode device profile %s: %w", path, err)
	}
	return info, nil
}

// ProfileReporter serves an Info loaded from a profile file.
type ProfileReporter struct {
	info Info
}

// NewProfileReporter loads the profile at path.
func NewProfileReporter(path string) (*ProfileReporter, error) {
	info, err := LoadProfile(path)
	if err != nil {
		return nil, err
	}
	return &ProfileReporter{info: info}, nil
}

func (r *ProfileReporter) Report() Info { return r.info }
