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

package keys

import (
	"context"
	"crypto/ecdsa"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/utils"
	log "github.com/sirupsen/logrus"
)

// Conf configures where the signing key for public transactions comes from.
// At most one source can be set
type Conf struct {
	PrivateKeyHex  string `json:"privateKeyHex,omitempty"`
	PrivateKeyFile string `json:"privateKeyFile,omitempty"`
	KeystoreFile   string `json:"keystoreFile,omitempty"`
	PasswordFile   string `json:"passwordFile,omitempty"`
}

// ActiveKey is the key used to sign public transactions
type ActiveKey struct {
	Address string
	Key     *ecdsa.PrivateKey
}

// Provider resolves the active key. It returns nil with no error if no key
// is configured
type Provider interface {
	ActiveKey(ctx context.Context) (*ActiveKey, error)
}

type fileProvider struct {
	conf   *Conf
	mux    sync.Mutex
	loaded *ActiveKey
}

// NewProvider validates the configuration. The key is loaded on first use
func NewProvider(conf *Conf) (Provider, error) {
	sources := 0
	for _, s := range []string{conf.PrivateKeyHex, conf.PrivateKeyFile, conf.KeystoreFile} {
		if s != "" {
			sources++
		}
	}
	if sources > 1 {
		return nil, errors.Errorf(errors.ConfigKeysConflict)
	}
	return &fileProvider{conf: conf}, nil
}

// NewStaticProvider always returns the supplied key
func NewStaticProvider(key *ecdsa.PrivateKey) Provider {
	return &fileProvider{conf: &Conf{}, loaded: toActiveKey(key)}
}

func toActiveKey(key *ecdsa.PrivateKey) *ActiveKey {
	return &ActiveKey{
		Address: utils.NormalizeAddress(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		Key:     key,
	}
}

func (p *fileProvider) ActiveKey(ctx context.Context) (*ActiveKey, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.loaded != nil {
		return p.loaded, nil
	}
	var key *ecdsa.PrivateKey
	var err error
	switch {
	case p.conf.PrivateKeyHex != "":
		key, err = parseHex("privateKeyHex", p.conf.PrivateKeyHex)
	case p.conf.PrivateKeyFile != "":
		key, err = p.loadKeyFile()
	case p.conf.KeystoreFile != "":
		key, err = p.loadKeystore()
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.loaded = toActiveKey(key)
	log.Infof("Loaded signing key for %s", p.loaded.Address)
	return p.loaded, nil
}

func parseHex(source, s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, errors.Errorf(errors.KeysLoadFailed, source, err)
	}
	return key, nil
}

func (p *fileProvider) loadKeyFile() (*ecdsa.PrivateKey, error) {
	b, err := os.ReadFile(p.conf.PrivateKeyFile)
	if err != nil {
		return nil, errors.Errorf(errors.KeysLoadFailed, p.conf.PrivateKeyFile, err)
	}
	return parseHex(p.conf.PrivateKeyFile, string(b))
}

func (p *fileProvider) loadKeystore() (*ecdsa.PrivateKey, error) {
	b, err := os.ReadFile(p.conf.KeystoreFile)
	if err != nil {
		return nil, errors.Errorf(errors.KeysLoadFailed, p.conf.KeystoreFile, err)
	}
	var password string
	if p.conf.PasswordFile != "" {
		pb, err := os.ReadFile(p.conf.PasswordFile)
		if err != nil {
			return nil, errors.Errorf(errors.KeysLoadFailed, p.conf.PasswordFile, err)
		}
		password = strings.TrimRight(string(pb), "\r\n")
	}
	key, err := keystore.DecryptKey(b, password)
	if err != nil {
		return nil, errors.Errorf(errors.KeysLoadFailed, p.conf.KeystoreFile, err)
	}
	return key.PrivateKey, nil
}
