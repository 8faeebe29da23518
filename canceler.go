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

// Canceler is the minimal surface this module needs from a
// context.Context. Any context.Context satisfies it; it is spelled out
// separately so internal packages don't have to import "context" just to
// accept one, the same split the teacher keeps between its unexported
// doneContext and the public ctxtool helpers.
type Canceler interface {
	Done() <-chan struct{}
	Err() error
}
