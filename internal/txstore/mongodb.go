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

package txstore

import (
	"context"
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	log "github.com/sirupsen/logrus"
)

const (
	mongoConnectTimeout           = 10 * 1000
	defaultTransactionsCollection = "transactions"
	defaultNoncesCollection       = "nonces"
)

// MongoDBConf is the config for a MongoDB store
type MongoDBConf struct {
	URL              string `json:"url"`
	Database         string `json:"database"`
	Transactions     string `json:"transactions"`
	Nonces           string `json:"nonces"`
	ConnectTimeoutMS int    `json:"connectTimeoutMS"`
}

type nonceDoc struct {
	Address string `bson:"_id"`
	Next    uint64 `bson:"next"`
}

// MongoStore uses findAndModify for every conditional update, so multiple
// instances can safely share a database
type MongoStore struct {
	conf   *MongoDBConf
	mgo    MongoDatabase
	txs    MongoCollection
	nonces MongoCollection
	now    func() time.Time
}

// NewMongoStore constructs a store. Call Connect before use
func NewMongoStore(conf *MongoDBConf) *MongoStore {
	return &MongoStore{
		conf: conf,
		mgo:  &mgoWrapper{},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Connect to MongoDB, and ensure the indexes exist
func (m *MongoStore) Connect() (err error) {
	if m.conf.URL == "" || m.conf.Database == "" {
		return errors.Errorf(errors.ConfigStoreMissingMongoDB)
	}
	if m.conf.ConnectTimeoutMS <= 0 {
		m.conf.ConnectTimeoutMS = mongoConnectTimeout
	}
	if m.conf.Transactions == "" {
		m.conf.Transactions = defaultTransactionsCollection
	}
	if m.conf.Nonces == "" {
		m.conf.Nonces = defaultNoncesCollection
	}
	if err = m.mgo.Connect(m.conf.URL, time.Duration(m.conf.ConnectTimeoutMS)*time.Millisecond); err != nil {
		return errors.Errorf(errors.TransactionStoreMongoDBConnect, err)
	}
	m.txs = m.mgo.GetCollection(m.conf.Database, m.conf.Transactions)
	m.nonces = m.mgo.GetCollection(m.conf.Database, m.conf.Nonces)
	if collErr := m.txs.Create(&mgo.CollectionInfo{}); collErr != nil {
		log.Infof("MongoDB collection exists: %s", collErr)
	}

	indexes := []mgo.Index{
		{
			Key:        []string{"status", "nonce"},
			Background: true,
		},
		{
			Key:           []string{"from", "nonce"},
			Unique:        true,
			Background:    true,
			PartialFilter: bson.M{"nonce": bson.M{"$exists": true}},
		},
	}
	for _, index := range indexes {
		if err = m.txs.EnsureIndex(index); err != nil {
			return errors.Errorf(errors.TransactionStoreMongoDBIndex, err)
		}
	}

	log.Infof("Connected to MongoDB on %s DB=%s Transactions=%s Nonces=%s", m.conf.URL, m.conf.Database, m.conf.Transactions, m.conf.Nonces)
	return nil
}

func storeErr(op string, err error) error {
	return errors.Errorf(errors.TransactionStoreFailed, op, err)
}

func (m *MongoStore) Create(ctx context.Context, tx *Transaction) (*Transaction, bool, error) {
	stored := prepareCreate(tx, m.now())
	err := m.txs.Insert(stored)
	if err == nil {
		return stored, true, nil
	}
	if !mgo.IsDup(err) {
		return nil, false, storeErr("insert", err)
	}
	existing, err := m.Get(ctx, tx.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Duplicate on the (from,nonce) index rather than the id
		return nil, false, storeErr("insert", errors.Errorf(errors.NonceAssignmentConflict, tx.ID))
	}
	log.Debugf("TX:%s already exists", tx.ID)
	return existing, false, nil
}

func (m *MongoStore) Get(ctx context.Context, id string) (*Transaction, error) {
	var tx Transaction
	err := m.txs.Find(bson.M{"_id": id}).One(&tx)
	if err == mgo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return &tx, nil
}

func (m *MongoStore) ListPending(ctx context.Context) ([]*Transaction, error) {
	query := m.txs.Find(bson.M{"status": StatusPending})
	query.Sort("nonce")
	results := make([]*Transaction, 0)
	if err := query.All(&results); err != nil && err != mgo.ErrNotFound {
		return nil, storeErr("list", err)
	}
	// MongoDB sorts missing fields first
	sortPending(results)
	return results, nil
}

func (m *MongoStore) update(id, op string, update bson.M) error {
	err := m.txs.Update(bson.M{"_id": id}, update)
	if err == mgo.ErrNotFound {
		return errors.Errorf(errors.TransactionNotFound, id)
	}
	if err != nil {
		return storeErr(op, err)
	}
	return nil
}

func (m *MongoStore) UpdateHash(ctx context.Context, id, hash string) error {
	return m.update(id, "updateHash", bson.M{
		"$set": bson.M{"hash": hash, "updatedAt": m.now()},
	})
}

// conditional applies an update guarded by the supplied filter. On a miss
// the returned tx is the current record (nil if it does not exist)
func (m *MongoStore) conditional(ctx context.Context, op string, filter bson.M, update bson.M) (updated bool, tx *Transaction, err error) {
	var result Transaction
	_, err = m.txs.Find(filter).Apply(mgo.Change{
		Update:    update,
		ReturnNew: true,
	}, &result)
	if err == nil {
		return true, &result, nil
	}
	if err != mgo.ErrNotFound {
		return false, nil, storeErr(op, err)
	}
	tx, err = m.Get(ctx, filter["_id"].(string))
	return false, tx, err
}

func (m *MongoStore) UpdateOnReceipt(ctx context.Context, id string, receipt *eth.Receipt) error {
	updated, current, err := m.conditional(ctx, "updateOnReceipt",
		bson.M{"_id": id, "status": StatusPending, "receipt": bson.M{"$exists": false}},
		receiptUpdate(receipt, m.now()))
	switch {
	case err != nil:
		return err
	case updated:
		return nil
	case current == nil:
		return errors.Errorf(errors.TransactionNotFound, id)
	default:
		return errors.Errorf(errors.TransactionAlreadyFinal, id, current.Status)
	}
}

func receiptUpdate(receipt *eth.Receipt, now time.Time) bson.M {
	set := bson.M{
		"status":    statusForReceipt(receipt),
		"updatedAt": now,
	}
	if receipt != nil {
		set["receipt"] = receipt
		set["mined"] = true
	}
	return bson.M{"$set": set}
}

func (m *MongoStore) IncrementAttempts(ctx context.Context, id string) error {
	return m.update(id, "incrementAttempts", bson.M{
		"$inc": bson.M{"attempts": 1},
		"$set": bson.M{"updatedAt": m.now()},
	})
}

func (m *MongoStore) AssignNonce(ctx context.Context, id string, nonce uint64) (*Transaction, error) {
	updated, current, err := m.conditional(ctx, "assignNonce",
		bson.M{"_id": id, "nonce": bson.M{"$exists": false}},
		bson.M{
			"$set": bson.M{"nonce": nonce, "updatedAt": m.now()},
			"$inc": bson.M{"attempts": 1},
		})
	switch {
	case err != nil:
		return nil, err
	case updated:
		return current, nil
	case current == nil:
		return nil, errors.Errorf(errors.TransactionNotFound, id)
	default:
		return nil, ErrNonceAlreadySet
	}
}

func (m *MongoStore) ClearNonce(ctx context.Context, id string) error {
	return m.update(id, "clearNonce", bson.M{
		"$unset": bson.M{"nonce": ""},
		"$set":   bson.M{"updatedAt": m.now()},
	})
}

func (m *MongoStore) HighestPendingNonce(ctx context.Context, from string) (*uint64, error) {
	query := m.txs.Find(bson.M{
		"from":   from,
		"status": StatusPending,
		"nonce":  bson.M{"$exists": true},
	})
	query.Sort("-nonce")
	var tx Transaction
	err := query.One(&tx)
	if err == mgo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("highestPendingNonce", err)
	}
	return tx.Nonce, nil
}

// GetAndIncrement upserts the counter. Two first-use upserts racing can
// collide on the _id index, in which case the loser retries as an update
func (m *MongoStore) GetAndIncrement(ctx context.Context, address string) (uint64, error) {
	var doc nonceDoc
	change := mgo.Change{
		Update:    bson.M{"$inc": bson.M{"next": 1}},
		Upsert:    true,
		ReturnNew: true,
	}
	_, err := m.nonces.Find(bson.M{"_id": address}).Apply(change, &doc)
	if err != nil && mgo.IsDup(err) {
		log.Debugf("Nonce counter for %s created concurrently", address)
		_, err = m.nonces.Find(bson.M{"_id": address}).Apply(change, &doc)
	}
	if err != nil {
		return 0, errors.Errorf(errors.NonceAllocationFailed, address, err)
	}
	return doc.Next - 1, nil
}

func (m *MongoStore) ForceSet(ctx context.Context, address string, nonce uint64) error {
	if _, err := m.nonces.Upsert(bson.M{"_id": address}, bson.M{"$set": bson.M{"next": nonce}}); err != nil {
		return errors.Errorf(errors.NonceResetFailed, address, err)
	}
	return nil
}

func (m *MongoStore) Close() {
	m.mgo.Close()
}
