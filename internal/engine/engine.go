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

// Package engine wires the peer evaluation services together from configuration.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"peereval.dev/peereval/internal/app/api"
	"peereval.dev/peereval/internal/app/assignment"
	"peereval.dev/peereval/internal/app/evaluation"
	"peereval.dev/peereval/internal/app/finalize"
	"peereval.dev/peereval/internal/app/reassign"
	"peereval.dev/peereval/internal/appmain"
	"peereval.dev/peereval/internal/collab"
	"peereval.dev/peereval/internal/collab/fixtures"
	"peereval.dev/peereval/internal/collab/postgres"
	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/consts"
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/internal/events"
	"peereval.dev/peereval/internal/lock"
	"peereval.dev/peereval/internal/statestore"
	"peereval.dev/peereval/internal/util"
)

const (
	// CollabFixtures reads courses and submissions from a YAML file.
	CollabFixtures = "fixtures"
	// CollabPostgres reads them from the collaboration platform's database.
	CollabPostgres = "postgres"
	// EventsLog writes domain events to the structured log.
	EventsLog = "log"
	// EventsNATS publishes domain events on NATS subjects.
	EventsNATS = "nats"

	limiterJanitorInterval = time.Minute
)

var (
	logger = logrus.WithFields(logrus.Fields{
		"app":       "peereval",
		"component": "engine",
	})
)

// Engine holds every service of a running peereval instance.
type Engine struct {
	Store      statestore.Service
	Locker     lock.Locker
	Collab     collab.Backend
	Publisher  events.Publisher
	Finalizer  *finalize.Finalizer
	Matcher    *assignment.Matcher
	Controller *evaluation.Controller
	Resolver   *reassign.Resolver

	closers *util.MultiClose
}

// New builds an Engine. Close releases whatever New opened, also on error.
func New(ctx context.Context, cfg config.View) (*Engine, error) {
	e := &Engine{closers: util.NewMultiClose()}

	e.Store = statestore.New(cfg)
	e.closers.AddCloseWithErrorFunc(e.Store.Close)

	pool := statestore.NewPool(cfg)
	e.closers.AddCloseWithErrorFunc(pool.Close)
	e.Locker = lock.New(cfg, pool)

	var err error
	e.Collab, err = openCollab(ctx, cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.closers.AddCloseWithErrorFunc(e.Collab.Close)

	e.Publisher, err = openPublisher(cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.closers.AddCloseWithErrorFunc(e.Publisher.Close)

	e.Finalizer = finalize.New(e.Store, e.Locker, e.Collab, e.Publisher, finalize.OptionsFromConfig(cfg))
	e.Matcher = assignment.New(e.Store, e.Locker, e.Collab, e.Publisher)
	evalOpts := evaluation.OptionsFromConfig(cfg)
	e.Controller = evaluation.New(e.Store, e.Locker, e.Collab, e.Finalizer, e.Publisher, evalOpts)
	e.Resolver = reassign.New(e.Store, e.Locker, e.Collab, e.Finalizer, e.Publisher, evalOpts.Deadline())
	return e, nil
}

// Close releases resources in reverse order of creation and returns the first error.
func (e *Engine) Close() error {
	return e.closers.Close()
}

func openCollab(ctx context.Context, cfg config.View) (collab.Backend, error) {
	backend := cfg.GetString(consts.CollabBackend)
	if backend == "" {
		backend = CollabFixtures
	}
	logger.WithField("backend", backend).Info("configuring collaboration backend")
	switch backend {
	case CollabFixtures:
		path := cfg.GetString(consts.CollabFixturesPath)
		if path == "" {
			return nil, evalerr.New(evalerr.KindConfiguration, "%s is required for the fixtures backend", consts.CollabFixturesPath)
		}
		return fixtures.Load(path)
	case CollabPostgres:
		return postgres.Open(ctx, cfg.GetString(consts.CollabPostgresDSN))
	}
	return nil, evalerr.New(evalerr.KindConfiguration, "unknown %s %q", consts.CollabBackend, backend)
}

func openPublisher(cfg config.View) (events.Publisher, error) {
	backend := cfg.GetString(consts.EventsBackend)
	if backend == "" {
		backend = EventsLog
	}
	logger.WithField("backend", backend).Info("configuring event publisher")
	switch backend {
	case EventsLog:
		return events.LogPublisher{}, nil
	case EventsNATS:
		p, err := events.DialNATS(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "cannot start nats event publisher")
		}
		return p, nil
	}
	return nil, evalerr.New(evalerr.KindConfiguration, "unknown %s %q", consts.EventsBackend, backend)
}

// Bind starts an Engine inside an appmain application: it serves the API,
// reports redis in readiness probes and runs the background sweeper.
func Bind(p *appmain.Params, b *appmain.Bindings) error {
	cfg := p.Config()
	e, err := New(context.Background(), cfg)
	if err != nil {
		return err
	}
	b.AddCloserErr(e.Close)

	limiter := api.LimiterFromConfig(cfg)
	api.New(e.Matcher, e.Controller, e.Resolver, limiter).Register(b.ServeMux())
	b.AddHealthCheckFunc("redis", e.Store.HealthCheck)

	b.Go(e.Controller.Run)
	b.Go(func(ctx context.Context) {
		limiter.Run(ctx, limiterJanitorInterval)
	})
	return nil
}
