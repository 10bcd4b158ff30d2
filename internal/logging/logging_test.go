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

package logging

import (
	"fmt"
	"reflect"
	"testing"

	stackdriver "github.com/TV4/logrus-stackdriver-formatter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestNewFormatter(t *testing.T) {
	testCases := []struct {
		in       string
		expected interface{}
	}{
		{"", &logrus.TextFormatter{}},
		{"json", &logrus.JSONFormatter{}},
		{"JSON", &logrus.JSONFormatter{}},
		{"stackdriver", stackdriver.NewFormatter()},
		{"text", &logrus.TextFormatter{}},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("newFormatter(%s)", tc.in), func(t *testing.T) {
			actual := newFormatter(tc.in)
			require.Equal(t, reflect.TypeOf(tc.expected), reflect.TypeOf(actual))
		})
	}
}

func TestToLevel(t *testing.T) {
	testCases := []struct {
		in       string
		expected logrus.Level
		debug    bool
	}{
		{"trace", logrus.TraceLevel, true},
		{"debug", logrus.DebugLevel, true},
		{"info", logrus.InfoLevel, false},
		{"warn", logrus.WarnLevel, false},
		{"warning", logrus.WarnLevel, false},
		{"error", logrus.ErrorLevel, false},
		{"fatal", logrus.FatalLevel, false},
		{"panic", logrus.PanicLevel, false},
		{"", logrus.InfoLevel, false},
		{"nothing", logrus.InfoLevel, false},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(fmt.Sprintf("toLevel(%s) => %s", tc.in, tc.expected), func(t *testing.T) {
			require := require.New(t)
			actual := toLevel(tc.in)
			require.Equal(tc.expected, actual)
			require.Equal(tc.debug, isDebugLevel(actual))
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetFormatter(&logrus.TextFormatter{})
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetReportCaller(false)

	cfg := viper.New()
	cfg.Set("logging.format", "json")
	cfg.Set("logging.level", "error")
	cfg.Set("logging.source", true)
	ConfigureLogging(cfg)

	require.Equal(t, logrus.ErrorLevel, logrus.GetLevel())
	require.True(t, logrus.StandardLogger().ReportCaller)
}
