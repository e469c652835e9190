// Copyright 2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateTLSConfigurationDisabled(t *testing.T) {
	assert := assert.New(t)
	tlsConf, err := CreateTLSConfiguration(&TLSConfig{})
	assert.NoError(err)
	assert.Nil(tlsConf)
}

func TestCreateTLSConfigurationEnabledNoCerts(t *testing.T) {
	assert := assert.New(t)
	tlsConf, err := CreateTLSConfiguration(&TLSConfig{
		Enabled:            true,
		InsecureSkipVerify: true,
	})
	assert.NoError(err)
	assert.True(tlsConf.InsecureSkipVerify)
	assert.Nil(tlsConf.RootCAs)
}

func TestCreateTLSConfigurationCertWithoutKey(t *testing.T) {
	_, err := CreateTLSConfiguration(&TLSConfig{
		Enabled:         true,
		ClientCertsFile: "/some/cert.pem",
	})
	assert.Regexp(t, "Client private key and certificate must both be provided", err)
}

func TestCreateTLSConfigurationMissingKeyPair(t *testing.T) {
	_, err := CreateTLSConfiguration(&TLSConfig{
		Enabled:         true,
		ClientCertsFile: "/does/not/exist.pem",
		ClientKeyFile:   "/does/not/exist.key",
	})
	assert.Error(t, err)
}

func TestCreateTLSConfigurationMissingCA(t *testing.T) {
	_, err := CreateTLSConfiguration(&TLSConfig{
		Enabled:     true,
		CACertsFile: "/does/not/exist.pem",
	})
	assert.Error(t, err)
}
