package config

import (
	"fmt"
	"os"
	"os/user"
	"path"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"

	"github.com/hwemu/gdbstub/pkg/machine/sim"
)

const (
	configDir  string = ".gdbstub"
	configFile string = "config.yml"
)

// DefaultListen is the address served when neither the configuration file
// nor the command line name one.
const DefaultListen = "127.0.0.1:1234"

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Listen is the address the stub accepts debugger connections on.
	Listen string `yaml:"listen"`
	// AcceptMulti keeps the stub running after the first debugger
	// disconnects.
	AcceptMulti bool `yaml:"accept-multiclient"`
	// PacketSize is the maximum packet size advertised to debuggers.
	PacketSize int `yaml:"packet-size,omitempty"`

	// Machine describes the cores and memory map of the served machine.
	Machine sim.Config `yaml:"machine"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen:  DefaultListen,
		Machine: sim.DefaultConfig(),
	}
}

// LoadConfig attempts to populate a Config object from the config.yml
// file in the configuration directory of the user, creating it with the
// default contents if it does not exist.
func LoadConfig() (*Config, error) {
	fs := afero.NewOsFs()
	dir, err := GetConfigFilePath("")
	if err != nil {
		return nil, err
	}
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile := path.Join(dir, configFile)
	if _, err := fs.Stat(fullConfigFile); os.IsNotExist(err) {
		if err := createDefaultConfig(fs, fullConfigFile); err != nil {
			return nil, err
		}
	}
	return LoadConfigFs(fs, fullConfigFile)
}

// LoadConfigFs reads the configuration file at path from fs. Options not
// present in the file keep their default value.
func LoadConfigFs(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}
	c := Default()
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %v", path, err)
	}
	if len(c.Machine.Cores) == 0 {
		c.Machine.Cores = sim.DefaultConfig().Cores
	}
	return c, nil
}

// SaveConfig will marshal and save the config struct to path.
func SaveConfig(fs afero.Fs, path string, conf *Config) error {
	out, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, path, out, 0600)
}

func createDefaultConfig(fs afero.Fs, path string) error {
	if err := afero.WriteFile(fs, path, []byte(defaultConfig), 0600); err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

const defaultConfig = `# Configuration file for gdbstub.

# This is the default configuration file. Options that are commented out
# keep their default value, delete the leading hash mark to change one.

# Address debuggers connect to.
# listen: "127.0.0.1:1234"

# Keep serving after the first debugger disconnects.
# accept-multiclient: false

# Maximum packet size advertised to the debugger.
# packet-size: 16384

# The emulated machine. Cores start at pc with the stack pointer set to sp,
# breakpoints are installed before the first debugger connects.
machine:
  cores:
    - {name: cpu0, arch: cortex-m, pc: 0x100, sp: 0x20001000}
  memory:
    - {name: flash, start: 0x0, size: 0x40000, readonly: true}
    - {name: ram, start: 0x20000000, size: 0x10000}
  instructions-per-second: 1000000
`

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
