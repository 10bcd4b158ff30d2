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

package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const (
	// HealthCheckEndpoint is the endpoint for liveness and readiness probes.
	HealthCheckEndpoint   = "/healthz"
	healthStateFirstProbe = int32(0)
	healthStateHealthy    = int32(1)
	healthStateUnhealthy  = int32(2)
)

// Probe is a named dependency check run on readiness requests.
type Probe struct {
	Name  string
	Check func(context.Context) error
}

type statefulProbe struct {
	healthState atomic.Int32
	probes      []Probe
}

// ServeHTTP answers liveness probes directly and runs every dependency check
// on readiness probes (any request carrying a query string).
func (sp *statefulProbe) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if len(req.URL.Query()) > 0 {
		for _, probe := range sp.probes {
			err := probe.Check(req.Context())
			if err != nil {
				entry := logger.WithError(err).WithFields(logrus.Fields{"probe": probe.Name})
				if sp.healthState.Swap(healthStateUnhealthy) == healthStateUnhealthy {
					entry.Warningf("%s health check continues to fail.", HealthCheckEndpoint)
				} else {
					entry.Warningf("%s health check failed.", HealthCheckEndpoint)
				}
				http.Error(w, fmt.Sprintf("%s: %v", probe.Name, err), http.StatusServiceUnavailable)
				return
			}
		}

		switch sp.healthState.Swap(healthStateHealthy) {
		case healthStateUnhealthy:
			logger.Infof("%s is healthy again.", HealthCheckEndpoint)
		case healthStateFirstProbe:
			logger.Infof("%s is reporting healthy.", HealthCheckEndpoint)
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ok")
}

// NewHealthCheck creates an HTTP handler for liveness and readiness checks.
func NewHealthCheck(probes ...Probe) http.Handler {
	return &statefulProbe{
		probes: probes,
	}
}
