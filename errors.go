// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package cocur

import (
	"errors"

	"github.com/urso/sderr"
)

// Sentinel errors panicked for programmer-error conditions: misuse that
// indicates a bug at the call site rather than a normal runtime outcome.
var (
	// ErrGuardReleased is panicked when a released Mutex/RwLock guard's
	// value is read or written. Calling Unlock again on a released guard
	// does not panic; it is a silent no-op.
	ErrGuardReleased = errors.New("cocur: guard already released")

	// ErrInvalidCapacity is panicked by Channel's constructor on a negative
	// capacity.
	ErrInvalidCapacity = errors.New("cocur: invalid channel capacity")
)

// Wrapf wraps cause with a human message using github.com/urso/sderr,
// instead of a hand-rolled fmt.Errorf("%w: ...") chain.
func Wrapf(cause error, msg string) error {
	return sderr.Wrap(cause, msg)
}

// WrapAllf aggregates multiple causes under one message using sderr's
// multi-error support, so a fan-out of concurrent goroutines can report
// every failure at once instead of only the first.
func WrapAllf(causes []error, msg string) error {
	if len(causes) == 0 {
		return nil
	}
	return sderr.WrapAll(causes, msg)
}
