package cmd

import (
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"

	"github.com/lunixbochs/vmsched/go/models"
)

const configName = "vmsched.toml"

var configDirs = configdir.New("lunixbochs", "vmsched")

// LoadConfig decodes path into cfg. With an empty path the first vmsched.toml in the user or
// system config folders is used, and having none is fine. Unknown keys are an error.
func LoadConfig(cfg *models.Config, path string) (string, error) {
	var md toml.MetaData
	var err error
	if path != "" {
		md, err = toml.DecodeFile(path, cfg)
	} else {
		folder := configDirs.QueryFolderContainsFile(configName)
		if folder == nil {
			return "", nil
		}
		var data []byte
		if data, err = folder.ReadFile(configName); err != nil {
			return "", errors.Wrap(err, "config read failed")
		}
		path = filepath.Join(folder.Path, configName)
		md, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return path, errors.Wrapf(err, "config %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return path, errors.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return path, nil
}
