/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package terminal

import "encoding/json"

// State is a record's liveness.
type State uint8

const (
	StateActive State = iota
	StateSuspect
	// StateStale is terminal: the record is removed in the same step.
	StateStale
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateSuspect:
		return "SUSPECT"
	case StateStale:
		return "STALE"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// signal is what one tick observed about a record.
type signal uint8

const (
	// signalSeen: the MAC was in the snapshot.
	signalSeen signal = iota
	// signalMissed: absent, below the miss threshold.
	signalMissed
	// signalExpired: absent, miss threshold reached.
	signalExpired
)

//nolint:gochecknoglobals // immutable transition table
var transitions = [...][3]State{
	StateActive:  {signalSeen: StateActive, signalMissed: StateSuspect, signalExpired: StateStale},
	StateSuspect: {signalSeen: StateActive, signalMissed: StateSuspect, signalExpired: StateStale},
	StateStale:   {signalSeen: StateStale, signalMissed: StateStale, signalExpired: StateStale},
}

func next(s State, sig signal) State {
	return transitions[s][sig]
}
