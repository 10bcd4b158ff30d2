// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config contains convenience functions for reading and managing viper configs.
package config

import (
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath  = "config/default/peereval.yaml"
	overrideConfigPath = "config/override/peereval.yaml"
	envPrefix          = "PEEREVAL"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "config",
	})
)

// Read reads the default configuration file, layers the override file on top of it
// when one exists, and keeps both watched for changes.
func Read() (View, error) {
	files := []string{defaultConfigPath}
	if _, err := os.Stat(overrideConfigPath); err == nil {
		files = append(files, overrideConfigPath)
	}
	return ReadAndMerge(files...)
}

// ReadAndMerge reads every file into its own layer and merges them in order,
// later files overriding earlier ones.
func ReadAndMerge(files ...string) (View, error) {
	return readMerged(files...)
}

func read(file string, onChange func(fsnotify.Event)) (*viper.Viper, error) {
	cfg := viper.New()
	cfg.SetConfigFile(file)
	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	if err := cfg.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "cannot read config file %s", file)
	}

	// Look for updates to the config; in Kubernetes this is a ConfigMap mounted
	// over the override file.
	cfg.WatchConfig()
	cfg.OnConfigChange(func(event fsnotify.Event) {
		logger.WithFields(logrus.Fields{
			"filename":  event.Name,
			"operation": event.Op,
		}).Info("Server configuration changed.")
		if onChange != nil {
			onChange(event)
		}
	})
	return cfg, nil
}
