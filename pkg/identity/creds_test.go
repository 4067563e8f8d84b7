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
	"os"
	"path/filepath"
	"testing"

	"github.com/nats-io/jwt/v2"
	"github.com/nats-io/nkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCredsFile builds a decorated credentials file for a fresh user signed
// by a fresh account, returning the file path and the user's public key.
func writeCredsFile(t *testing.T) (path, publicKey string) {
	t.Helper()

	accountKP, err := nkeys.CreateAccount()
	require.NoError(t, err)

	userKP, err := nkeys.CreateUser()
	require.NoError(t, err)

	pub, err := userKP.PublicKey()
	require.NoError(t, err)

	claims := jwt.NewUserClaims(pub)
	claims.Name = "test-user"

	token, err := claims.Encode(accountKP)
	require.NoError(t, err)

	seed, err := userKP.Seed()
	require.NoError(t, err)

	creds, err := jwt.FormatUserConfig(token, seed)
	require.NoError(t, err)

	path = filepath.Join(t.TempDir(), "user.creds")
	require.NoError(t, os.WriteFile(path, creds, 0o600))

	return path, pub
}

func TestPrincipalFromCredsFile(t *testing.T) {
	path, pub := writeCredsFile(t)

	principal, err := PrincipalFromCredsFile(path)
	require.NoError(t, err)
	assert.Equal(t, pub, principal)
	assert.True(t, nkeys.IsValidPublicUserKey(principal))
}

func TestPrincipalFromCredsFileMissing(t *testing.T) {
	_, err := PrincipalFromCredsFile(filepath.Join(t.TempDir(), "nope.creds"))
	require.Error(t, err)
}

func TestPrincipalFromCredsFileGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.creds")
	require.NoError(t, os.WriteFile(path, []byte("not a creds file"), 0o600))

	_, err := PrincipalFromCredsFile(path)
	require.Error(t, err)
}

func TestPrincipalFromCredsFileSeedMismatch(t *testing.T) {
	accountKP, err := nkeys.CreateAccount()
	require.NoError(t, err)

	userKP, err := nkeys.CreateUser()
	require.NoError(t, err)

	otherKP, err := nkeys.CreateUser()
	require.NoError(t, err)

	pub, err := userKP.PublicKey()
	require.NoError(t, err)

	token, err := jwt.NewUserClaims(pub).Encode(accountKP)
	require.NoError(t, err)

	// The embedded seed belongs to a different user than the JWT subject.
	otherSeed, err := otherKP.Seed()
	require.NoError(t, err)

	creds, err := jwt.FormatUserConfig(token, otherSeed)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "mismatch.creds")
	require.NoError(t, os.WriteFile(path, creds, 0o600))

	_, err = PrincipalFromCredsFile(path)
	require.ErrorIs(t, err, ErrKeyMismatch)
}

func TestNewCredsProvider(t *testing.T) {
	path, pub := writeCredsFile(t)

	provider, err := NewCredsProvider(path)
	require.NoError(t, err)
	assert.Equal(t, pub, provider.CurrentPrincipal())
}

func TestStaticProviderOnChange(t *testing.T) {
	provider := NewStaticProvider("u1")

	var seen []string

	provider.OnChange(func(principal string) {
		seen = append(seen, principal)
	})

	provider.Set("u2")
	provider.Set("")

	assert.Equal(t, []string{"u2", ""}, seen)
	assert.Empty(t, provider.CurrentPrincipal())
}
