// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	demerrors "github.com/kraklabs/demindex/internal/errors"
	"github.com/kraklabs/demindex/pkg/index"
	"github.com/kraklabs/demindex/pkg/storage"
)

// DefaultConfigPath is read when --config is not given. A missing default
// file is not an error.
const DefaultConfigPath = "demindex.yaml"

// DefaultEPSG is the index spatial reference when neither the flag nor the
// configuration names one.
const DefaultEPSG = 4326

// Config is the demindex configuration file.
//
//	connections:
//	  sandwich:
//	    host: db.example.org
//	    name: pgc
//	    user: ${PGUSER}
//	    password: ${PGPASSWORD}
//	defaults:
//	  epsg: 3413
//	  status: online
type Config struct {
	Connections map[string]storage.PostgresConfig `yaml:"connections"`
	Defaults    Defaults                          `yaml:"defaults"`
}

// Defaults are flag values used when the flag is not given.
type Defaults struct {
	EPSG   int    `yaml:"epsg"`
	Status string `yaml:"status"`
}

func defaultConfig() *Config {
	return &Config{
		Connections: map[string]storage.PostgresConfig{},
		Defaults:    Defaults{EPSG: DefaultEPSG, Status: index.DefaultStatus},
	}
}

// LoadConfig reads the configuration at path, or DefaultConfigPath when
// path is empty. A .env file in the working directory is loaded first and
// ${VAR} references in the file are expanded from the environment.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	// A missing .env is the common case.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, demerrors.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("Reading %s failed", path),
			"Check the --config path, or omit it to use ./"+DefaultConfigPath,
			err,
		)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, demerrors.NewConfigError(
			"Invalid configuration file",
			fmt.Sprintf("%s is not valid YAML", path),
			"Fix the syntax error reported below",
			err,
		)
	}
	if cfg.Connections == nil {
		cfg.Connections = map[string]storage.PostgresConfig{}
	}
	if cfg.Defaults.EPSG == 0 {
		cfg.Defaults.EPSG = DefaultEPSG
	}
	if cfg.Defaults.Status == "" {
		cfg.Defaults.Status = index.DefaultStatus
	}
	return cfg, nil
}

// Connection returns the PostgreSQL settings of section.
func (c *Config) Connection(section string) (*storage.PostgresConfig, error) {
	pc, ok := c.Connections[section]
	if !ok {
		return nil, demerrors.NewConfigError(
			fmt.Sprintf("No connection named %q", section),
			"PG:<section>:<layer> destinations read their settings from connections.<section>",
			fmt.Sprintf("Add a connections.%s entry to the configuration file", section),
			nil,
		)
	}
	return &pc, nil
}
