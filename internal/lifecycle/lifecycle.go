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

// Package lifecycle is the finite-state machine every Evaluation moves through.
//
//	assigned -> in_progress -> submitted -> reviewed -> finalized
//	assigned, in_progress -> missed (deadline elapsed)
//
// All status changes go through Next; the only backwards edge is a reassignment
// reset to assigned.
package lifecycle

import (
	"peereval.dev/peereval/internal/evalerr"
	"peereval.dev/peereval/pkg/model"
)

// Event triggers a transition.
type Event string

// Transition events.
const (
	EventStart         Event = "start"
	EventSubmit        Event = "submit"
	EventApprove       Event = "approve"
	EventReject        Event = "reject"
	EventReassign      Event = "reassign"
	EventForceReassign Event = "force_reassign"
	EventExpire        Event = "expire"
	EventFinalize      Event = "finalize"
)

var transitions = map[model.Status]map[Event]model.Status{
	model.StatusAssigned: {
		EventStart:         model.StatusInProgress,
		EventSubmit:        model.StatusSubmitted,
		EventReassign:      model.StatusAssigned,
		EventForceReassign: model.StatusAssigned,
		EventExpire:        model.StatusMissed,
	},
	model.StatusInProgress: {
		EventSubmit:        model.StatusSubmitted,
		EventReassign:      model.StatusAssigned,
		EventForceReassign: model.StatusAssigned,
		EventExpire:        model.StatusMissed,
	},
	model.StatusSubmitted: {
		EventApprove:       model.StatusReviewed,
		EventReject:        model.StatusSubmitted,
		EventFinalize:      model.StatusFinalized,
		EventForceReassign: model.StatusAssigned,
	},
	model.StatusReviewed: {
		// A second approval edits the review notes in place.
		EventApprove:       model.StatusReviewed,
		EventFinalize:      model.StatusFinalized,
		EventForceReassign: model.StatusAssigned,
	},
	model.StatusMissed: {
		EventForceReassign: model.StatusAssigned,
	},
	model.StatusFinalized: {},
}

// Next returns the status reached by applying ev in from, or an InvalidStateError.
func Next(from model.Status, ev Event) (model.Status, error) {
	edges, ok := transitions[from]
	if !ok {
		return "", evalerr.New(evalerr.KindInvalidState, "unknown evaluation status %q", from)
	}
	to, ok := edges[ev]
	if !ok {
		return "", evalerr.New(evalerr.KindInvalidState, "cannot %s an evaluation in status %s", ev, from)
	}
	return to, nil
}

// Can reports whether ev is allowed in from.
func Can(from model.Status, ev Event) bool {
	_, err := Next(from, ev)
	return err == nil
}
