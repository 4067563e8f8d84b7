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

package identity

import (
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/jwt/v2"
	"github.com/nats-io/nkeys"
)

var (
	ErrNotUserCredentials = errors.New("credentials file does not contain a user JWT")
	ErrKeyMismatch        = errors.New("credentials seed does not match the user JWT subject")
)

// PrincipalFromCredsFile derives the principal from a NATS credentials file:
// the subject of the decorated user JWT, cross-checked against the embedded
// seed. The resulting public user nkey is the opaque principal that scopes
// all event log paths, the same identity the transport itself authenticates.
func PrincipalFromCredsFile(path string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	token, err := jwt.ParseDecoratedJWT(contents)
	if err != nil {
		return "", fmt.Errorf("failed to parse user JWT: %w", err)
	}

	claims, err := jwt.DecodeUserClaims(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotUserCredentials, err)
	}

	kp, err := jwt.ParseDecoratedNKey(contents)
	if err != nil {
		return "", fmt.Errorf("failed to parse credentials seed: %w", err)
	}

	pub, err := kp.PublicKey()
	if err != nil {
		return "", fmt.Errorf("failed to derive public key: %w", err)
	}

	if !nkeys.IsValidPublicUserKey(pub) || pub != claims.Subject {
		return "", ErrKeyMismatch
	}

	return pub, nil
}

// NewCredsProvider builds a provider whose principal is derived from a NATS
// credentials file at construction time.
func NewCredsProvider(path string) (*StaticProvider, error) {
	principal, err := PrincipalFromCredsFile(path)
	if err != nil {
		return nil, err
	}

	return NewStaticProvider(principal), nil
}
