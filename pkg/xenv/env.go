package xenv

import (
	"os"

	"github.com/caarlos0/env/v8"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Prefix is prepended to every environment variable name.
const Prefix = "DOORBUS_"

/* example
type config struct {
	Backend  string        `env:"MBOX_BACKEND" envDefault:"memory" yaml:"backend"`
	RTO      time.Duration `env:"MBOX_RTO" envDefault:"2s" yaml:"rto"`
	Log      xlog.Config   `envPrefix:"LOG_" yaml:"log"`
}
*/

// EnvLoad fills conf from defaults and DOORBUS_* environment variables.
func EnvLoad(conf interface{}) error {
	if err := env.ParseWithOptions(conf, env.Options{Prefix: Prefix}); err != nil {
		return errors.Wrap(err, "parse environment")
	}
	return nil
}

// Load applies defaults and environment first, then the YAML file at path on top.
// An empty path skips the file.
func Load(path string, conf interface{}) error {
	if err := EnvLoad(conf); err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	return LoadYAML(path, conf)
}

func LoadYAML(path string, conf interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return errors.Wrapf(err, "decode config %s", path)
	}
	return nil
}
