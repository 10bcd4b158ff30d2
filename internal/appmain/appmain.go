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

// Package appmain contains the common application initialization code for peereval servers.
package appmain

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/consts"
	"peereval.dev/peereval/internal/logging"
	"peereval.dev/peereval/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "app.main",
	})
)

// RunApplication starts and runs the given application forever.  For use in
// main functions to run the full application.
func RunApplication(serverName string, bindService Bind) {
	c := make(chan os.Signal, 1)
	// SIGTERM is signaled by k8s when it wants a pod to stop.
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)

	a, err := StartApplication(serverName, bindService, config.Read, net.Listen)
	if err != nil {
		logger.Fatal(err)
	}

	<-c
	err = a.Stop()
	if err != nil {
		logger.Fatal(err)
	}
	logger.Info("Application stopped successfully.")
}

// Bind is a function which starts an application, and binds it to serving.
type Bind func(p *Params, b *Bindings) error

// Params are inputs to starting an application.
type Params struct {
	config      config.View
	serviceName string
}

// Config provides the configuration for the application.
func (p *Params) Config() config.View {
	return p.config
}

// ServiceName is the name the application was started with.
func (p *Params) ServiceName() string {
	return p.serviceName
}

// Bindings allows applications to bind various functions to the running servers.
type Bindings struct {
	a      *App
	mux    *http.ServeMux
	probes []telemetry.Probe
}

// ServeMux is the mux the HTTP server serves.
func (b *Bindings) ServeMux() *http.ServeMux {
	return b.mux
}

// AddHealthCheckFunc allows an application to check if it is healthy, and
// contribute to the overall server health.
func (b *Bindings) AddHealthCheckFunc(name string, f func(context.Context) error) {
	b.probes = append(b.probes, telemetry.Probe{Name: name, Check: f})
}

// TelemetryHandle serves a telemetry endpoint next to the API.
func (b *Bindings) TelemetryHandle(pattern string, handler http.Handler) {
	b.mux.Handle(pattern, handler)
}

// Go runs f in the background until the application stops. Stop waits for f
// to return before running closers.
func (b *Bindings) Go(f func(ctx context.Context)) {
	b.a.wg.Add(1)
	go func() {
		defer b.a.wg.Done()
		f(b.a.ctx)
	}()
}

// AddCloser registers c to run when the application stops.
func (b *Bindings) AddCloser(c func()) {
	b.a.closers = append(b.a.closers, func() error {
		c()
		return nil
	})
}

// AddCloserErr registers c to run when the application stops.
func (b *Bindings) AddCloserErr(c func() error) {
	b.a.closers = append(b.a.closers, c)
}

// App is a started application.
type App struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func() error
}

// StartApplication provides more control over an application than
// RunApplication.  It is for running in memory tests against your app.
func StartApplication(serverName string, bindService Bind, getCfg func() (config.View, error), listen func(network, address string) (net.Listener, error)) (*App, error) {
	a := &App{}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	cfg, err := getCfg()
	if err != nil {
		a.cancel()
		return nil, errors.Wrap(err, "cannot read configuration")
	}
	logging.ConfigureLogging(cfg)

	p := &Params{
		config:      cfg,
		serviceName: serverName,
	}
	b := &Bindings{
		a:   a,
		mux: http.NewServeMux(),
	}

	err = telemetry.Setup(p, b)
	if err != nil {
		a.Stop()
		return nil, err
	}

	err = bindService(p, b)
	if err != nil {
		a.Stop()
		return nil, err
	}
	b.mux.Handle(telemetry.HealthCheckEndpoint, telemetry.NewHealthCheck(b.probes...))

	addr := fmt.Sprintf(":%d", cfg.GetInt(consts.HTTPPort))
	l, err := listen("tcp", addr)
	if err != nil {
		a.Stop()
		return nil, errors.Wrapf(err, "cannot listen on %s", addr)
	}

	srv := &http.Server{
		Handler:           b.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server stopped")
		}
	}()
	b.AddCloserErr(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	logger.WithFields(logrus.Fields{
		"service": serverName,
		"address": l.Addr().String(),
	}).Info("serving")
	return a, nil
}

// Stop cancels background work, waits for it, then runs closers.
func (a *App) Stop() error {
	a.cancel()
	a.wg.Wait()

	// Use closers in reverse order: Since dependencies are created before
	// their dependants, this helps ensure no dependencies are closed
	// unexpectedly.
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err := a.closers[i]()
		if firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
