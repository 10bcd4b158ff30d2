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

package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/consts"
	"peereval.dev/peereval/internal/telemetry"
)

const defaultSubjectPrefix = "peereval"

var (
	mEventPublishCount = telemetry.Counter("events/publishcount", "events published to nats")
)

// NATSPublisher publishes every event as JSON on subject <prefix>.<type>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// DialNATS connects to events.nats.url.
func DialNATS(cfg config.View) (*NATSPublisher, error) {
	url := cfg.GetString(consts.EventsNATSURL)
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("peereval"),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot connect to nats at %s", url)
	}
	p := NewNATSPublisher(nc, cfg.GetString(consts.EventsNATSSubjectPrefix))
	p.owned = true
	return p, nil
}

// NewNATSPublisher publishes on an existing connection. The connection stays
// owned by the caller.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "cannot encode event")
	}
	if err := p.nc.Publish(p.Subject(e.Type), data); err != nil {
		return errors.Wrapf(err, "cannot publish %s", e.Type)
	}
	telemetry.RecordUnitMeasurement(ctx, mEventPublishCount)
	return nil
}

// Close flushes pending events and closes the connection if it was dialed here.
func (p *NATSPublisher) Close() error {
	err := p.nc.Flush()
	if p.owned {
		p.nc.Close()
	}
	return err
}
