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

// Package telemetry registers opencensus measures and exposes them to Prometheus.
package telemetry

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats/view"
	"peereval.dev/peereval/internal/config"
)

const (
	configNameReportingPeriod = "telemetry.reportingPeriod"
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "telemetry",
	})
)

// Params are the inputs telemetry needs from the application.
type Params interface {
	Config() config.View
}

// Bindings lets telemetry attach handlers and closers to the running application.
type Bindings interface {
	TelemetryHandle(pattern string, handler http.Handler)
	AddCloser(c func())
}

// Setup configures the telemetry for the server.
func Setup(p Params, b Bindings) error {
	cfg := p.Config()
	reportingPeriod := time.Minute
	if cfg.IsSet(configNameReportingPeriod) {
		reportingPeriod = cfg.GetDuration(configNameReportingPeriod)
	}

	if err := bindPrometheus(p, b); err != nil {
		return err
	}

	// Change the frequency of updates to the metrics endpoint
	view.SetReportingPeriod(reportingPeriod)

	logger.WithFields(logrus.Fields{
		"reportingPeriod": reportingPeriod,
	}).Info("telemetry has been configured.")
	return nil
}
