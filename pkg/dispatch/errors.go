/*
 * Copyright 2026 FleetCmd Authors.
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

package dispatch

import "errors"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoDeviceSelected = errors.New("no device selected")
	ErrEmptyCommand     = errors.New("command name is empty")
	ErrDispatchFailed   = errors.New("failed to dispatch command")
	ErrTimedOut         = errors.New("timed out waiting for result")
	ErrCanceled         = errors.New("wait canceled")
	ErrMissingCommandID = errors.New("command id is required for correlation")
)
