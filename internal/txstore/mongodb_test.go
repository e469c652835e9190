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
	"fmt"
	"testing"
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	"github.com/stretchr/testify/assert"
)

type mockMongo struct {
	connErr     error
	url         string
	database    string
	collections map[string]*mockCollection
	closed      bool
}

func newMockMongo() *mockMongo {
	return &mockMongo{
		collections: map[string]*mockCollection{
			"transactions": {},
			"nonces":       {},
		},
	}
}

func (m *mockMongo) Connect(url string, timeout time.Duration) (err error) {
	m.url = url
	return m.connErr
}

func (m *mockMongo) GetCollection(database string, collection string) MongoCollection {
	m.database = database
	return m.collections[collection]
}

func (m *mockMongo) Close() {
	m.closed = true
}

type mockCollection struct {
	inserted       []interface{}
	insertErr      error
	collErr        error
	indexes        []mgo.Index
	ensureIndexErr error
	updateErr      error
	updates        []bson.M
	upsertErr      error
	upserts        []bson.M
	queries        []interface{}
	mockQueries    []*mockQuery
}

func (m *mockCollection) Insert(payloads ...interface{}) error {
	m.inserted = append(m.inserted, payloads...)
	return m.insertErr
}

func (m *mockCollection) Create(info *mgo.CollectionInfo) error {
	return m.collErr
}

func (m *mockCollection) EnsureIndex(index mgo.Index) error {
	m.indexes = append(m.indexes, index)
	return m.ensureIndexErr
}

// Find returns the queued queries in order, repeating the last
func (m *mockCollection) Find(query interface{}) MongoQuery {
	m.queries = append(m.queries, query)
	idx := len(m.queries) - 1
	if idx >= len(m.mockQueries) {
		idx = len(m.mockQueries) - 1
	}
	return m.mockQueries[idx]
}

func (m *mockCollection) Update(selector interface{}, update interface{}) error {
	m.updates = append(m.updates, update.(bson.M))
	return m.updateErr
}

func (m *mockCollection) Upsert(selector interface{}, update interface{}) (*mgo.ChangeInfo, error) {
	m.upserts = append(m.upserts, update.(bson.M))
	return &mgo.ChangeInfo{}, m.upsertErr
}

type mockQuery struct {
	err           error
	resultWranger func(interface{})
	sort          []string
	change        *mgo.Change
}

func (m *mockQuery) Sort(fields ...string) *mgo.Query {
	m.sort = fields
	return nil
}

func (m *mockQuery) All(result interface{}) error {
	return m.One(result)
}

func (m *mockQuery) One(result interface{}) error {
	if m.resultWranger != nil {
		m.resultWranger(result)
	}
	return m.err
}

func (m *mockQuery) Apply(change mgo.Change, result interface{}) (*mgo.ChangeInfo, error) {
	m.change = &change
	return &mgo.ChangeInfo{}, m.One(result)
}

func newTestMongoStore(t *testing.T) (*MongoStore, *mockMongo) {
	mgoMock := newMockMongo()
	m := &MongoStore{
		conf: &MongoDBConf{URL: "mongodb://localhost", Database: "testdb"},
		mgo:  mgoMock,
		now:  func() time.Time { return time.Unix(1000, 0).UTC() },
	}
	assert.NoError(t, m.Connect())
	return m, mgoMock
}

func txsColl(m *mockMongo) *mockCollection {
	return m.collections["transactions"]
}

func TestMongoConnectOK(t *testing.T) {
	assert := assert.New(t)
	m, mgoMock := newTestMongoStore(t)
	assert.Equal("mongodb://localhost", mgoMock.url)
	assert.Equal("testdb", mgoMock.database)
	assert.Equal(mongoConnectTimeout, m.conf.ConnectTimeoutMS)
	indexes := txsColl(mgoMock).indexes
	assert.Len(indexes, 2)
	assert.True(indexes[1].Unique)
	assert.Equal([]string{"from", "nonce"}, indexes[1].Key)
	m.Close()
	assert.True(mgoMock.closed)
}

func TestMongoConnectFailures(t *testing.T) {
	assert := assert.New(t)

	m := NewMongoStore(&MongoDBConf{})
	assert.Regexp("MongoDB URL and database must be provided", m.Connect())

	mgoMock := newMockMongo()
	mgoMock.connErr = fmt.Errorf("bang")
	m = &MongoStore{conf: &MongoDBConf{URL: "u", Database: "d"}, mgo: mgoMock}
	assert.Regexp("Unable to connect to MongoDB: bang", m.Connect())

	mgoMock = newMockMongo()
	txsColl(mgoMock).ensureIndexErr = fmt.Errorf("bang")
	txsColl(mgoMock).collErr = fmt.Errorf("exists")
	m = &MongoStore{conf: &MongoDBConf{URL: "u", Database: "d"}, mgo: mgoMock}
	assert.Regexp("Unable to create index: bang", m.Connect())
}

func TestMongoCreate(t *testing.T) {
	assert := assert.New(t)
	m, mgoMock := newTestMongoStore(t)
	stored, created, err := m.Create(context.Background(), newTx("tx1"))
	assert.NoError(err)
	assert.True(created)
	assert.Equal(StatusPending, stored.Status)
	assert.Equal(time.Unix(1000, 0).UTC(), stored.CreatedAt)
	assert.Len(txsColl(mgoMock).inserted, 1)
}

func TestMongoCreateDuplicate(t *testing.T) {
	assert := assert.New(t)
	m, mgoMock := newTestMongoStore(t)
	coll := txsColl(mgoMock)
	coll.insertErr = &mgo.LastError{Code: 11000}
	coll.mockQueries = []*mockQuery{{resultWranger: func(r interface{}) {
		*(r.(*Transaction)) = Transaction{ID: "tx1", Status: StatusConfirmed}
	}}}
	existing, created, err := m.Create(context.Background(), newTx("tx1"))
	assert.NoError(err)
	assert.False(created)
	assert.Equal(StatusConfirmed, existing.Status)
}

func TestMongoCreateDuplicateNonce(t *testing.T) {
	m, mgoMock := newTestMongoStore(t)
	coll := txsColl(mgoMock)
	coll.insertErr = &mgo.LastError{Code: 11000}
	coll.mockQueries = []*mockQuery{{err: mgo.ErrNotFound}}
	_, _, err := m.Create(context.Background(), newTx("tx1"))
	assert.Regexp(t, "assigned a nonce concurrently", err)
}

func TestMongoCreateFail(t *testing.T) {
	m, mgoMock := newTestMongoStore(t)
	txsColl(mgoMock).insertErr = fmt.Errorf("bang")
	_, _, err := m.Create(context.Background(), newTx("tx1"))
	assert.Regexp(t, "Transaction store insert failed: bang", err)
}

func TestMongoGet(t *testing.T) {
	assert := assert.New(t)
	m, mgoMock := newTestMongoStore(t)
	coll := txsColl(mgoMock)
	coll.mockQueries = []*mockQuery{{err: mgo.ErrNotFound}}
	tx, err := m.Get(context.Background(), "tx1")
	assert.NoError(err)
	assert.Nil(tx)

	coll.mockQueries = []*mockQuery{{err: fmt.Errorf("bang")}}
	_, err = m.Get(context.Background(), "tx1")
	assert.Regexp("bang", err)
}

func TestMongoListPending(t *testing.T) {
	assert := assert.New(t)
	m, mgoMock := newTestMongoStore(t)
	q := &mockQuery{resultWranger: func(r interface{}) {
		*(r.(*[]*Transaction)) = []*Transaction{{ID: "a"}, {ID: "b", Nonce: u64(2)}, {ID: "c", Nonce: u64(1)}}
	}}
	txsColl(mgoMock).mockQueries = []*mockQuery{q}
	pending, err := m.ListPending(context.Background())
	assert.NoError(err)
	assert.Equal([]string{"nonce"}, q.sort)
	assert.Equal("c", pending[0].ID)
	assert.Equal("b", pending[1].ID)
	assert.Equal("a", pending[2].ID)
	assert.Equal(bson.M{"status": StatusPending}, txsColl(mgoMock).queries[0])

	txsColl(mgoMock).mockQueries = []*mockQuery{{err: fmt.Errorf("bang")}}
	_, err = m.ListPending(context.Background())
	assert.Regexp("bang", err)
}

func TestMongoSimpleUpdates(t *testing.T) {
	assert := assert.New(t)
	m, mgoMock := newTestMongoStore(t)
	coll := txsColl(mgoMock)
	ctx := context.Background()

	assert.NoError(m.UpdateHash(ctx, "tx1", "0x12"))
	assert.NoError(m.IncrementAttempts(ctx, "tx1"))
	assert.NoError(m.ClearNonce(ctx, "tx1"))
	assert.Equal("0x12", coll.updates[0]["$set"].(bson.M)["hash"])
	assert.Equal(bson.M{"attempts": 1}, coll.updates[1]["$inc"])
	assert.Equal(bson.M{"nonce": ""}, coll.updates[2]["$unset"])

	coll.updateErr = mgo.ErrNotFound
	assert.True(errors.IsCode(m.UpdateHash(ctx, "tx1", "0x12"), errors.TransactionNotFound))
	coll.updateErr = fmt.Errorf("bang")
	assert.Regexp("Transaction store updateHash failed: bang", m.UpdateHash(ctx, "tx1", "0x12"))
}

func TestMongoUpdateOnReceipt(t *testing.T) {
	assert := assert.New(t)
	m, mgoMock := newTestMongoStore(t)
	coll := txsColl(mgoMock)
	ctx := context.Background()

	q := &mockQuery{}
	coll.mockQueries = []*mockQuery{q}
	assert.NoError(m.UpdateOnReceipt(ctx, "tx1", &eth.Receipt{Status: 0}))
	set := q.change.Update.(bson.M)["$set"].(bson.M)
	assert.Equal(StatusReverted, set["status"])
	assert.Equal(true, set["mined"])
	assert.True(q.change.ReturnNew)

	coll.mockQueries = []*mockQuery{{err: mgo.ErrNotFound}, {resultWranger: func(r interface{}) {
		*(r.(*Transaction)) = Transaction{ID: "tx1", Status: StatusConfirmed}
	}}}
	coll.queries = nil
	err := m.UpdateOnReceipt(ctx, "tx1", &eth.Receipt{Status: 1})
	assert.True(errors.IsCode(err, errors.TransactionAlreadyFinal))

	coll.mockQueries = []*mockQuery{{err: mgo.ErrNotFound}}
	coll.queries = nil
	err = m.UpdateOnReceipt(ctx, "tx1", &eth.Receipt{Status: 1})
	assert.True(errors.IsCode(err, errors.TransactionNotFound))

	coll.mockQueries = []*mockQuery{{err: fmt.Errorf("bang")}}
	coll.queries = nil
	err = m.UpdateOnReceipt(ctx, "tx1", &eth.Receipt{Status: 1})
	assert.Regexp("bang", err)
}

func TestMongoAssignNonce(t *testing.T) {
	assert := assert.New(t)
	m, mgoMock := newTestMongoStore(t)
	coll := txsColl(mgoMock)
	ctx := context.Background()

	q := &mockQuery{resultWranger: func(r interface{}) {
		*(r.(*Transaction)) = Transaction{ID: "tx1", Nonce: u64(4), Attempts: 1}
	}}
	coll.mockQueries = []*mockQuery{q}
	tx, err := m.AssignNonce(ctx, "tx1", 4)
	assert.NoError(err)
	assert.Equal(uint64(4), *tx.Nonce)
	assert.Equal(bson.M{"_id": "tx1", "nonce": bson.M{"$exists": false}}, coll.queries[0])
	assert.Equal(bson.M{"attempts": 1}, q.change.Update.(bson.M)["$inc"])

	coll.mockQueries = []*mockQuery{{err: mgo.ErrNotFound}, {resultWranger: func(r interface{}) {
		*(r.(*Transaction)) = Transaction{ID: "tx1", Nonce: u64(3)}
	}}}
	coll.queries = nil
	_, err = m.AssignNonce(ctx, "tx1", 4)
	assert.Equal(ErrNonceAlreadySet, err)

	coll.mockQueries = []*mockQuery{{err: mgo.ErrNotFound}}
	coll.queries = nil
	_, err = m.AssignNonce(ctx, "tx1", 4)
	assert.True(errors.IsCode(err, errors.TransactionNotFound))
}

func TestMongoHighestPendingNonce(t *testing.T) {
	assert := assert.New(t)
	m, mgoMock := newTestMongoStore(t)
	coll := txsColl(mgoMock)
	ctx := context.Background()

	q := &mockQuery{resultWranger: func(r interface{}) {
		*(r.(*Transaction)) = Transaction{ID: "tx1", Nonce: u64(9)}
	}}
	coll.mockQueries = []*mockQuery{q}
	n, err := m.HighestPendingNonce(ctx, testFrom)
	assert.NoError(err)
	assert.Equal(uint64(9), *n)
	assert.Equal([]string{"-nonce"}, q.sort)

	coll.mockQueries = []*mockQuery{{err: mgo.ErrNotFound}}
	n, err = m.HighestPendingNonce(ctx, testFrom)
	assert.NoError(err)
	assert.Nil(n)

	coll.mockQueries = []*mockQuery{{err: fmt.Errorf("bang")}}
	_, err = m.HighestPendingNonce(ctx, testFrom)
	assert.Regexp("bang", err)
}

func TestMongoNonceCounter(t *testing.T) {
	assert := assert.New(t)
	m, mgoMock := newTestMongoStore(t)
	coll := mgoMock.collections["nonces"]
	ctx := context.Background()

	q := &mockQuery{resultWranger: func(r interface{}) {
		r.(*nonceDoc).Next = 1
	}}
	coll.mockQueries = []*mockQuery{q}
	n, err := m.GetAndIncrement(ctx, testFrom)
	assert.NoError(err)
	assert.Equal(uint64(0), n)
	assert.True(q.change.Upsert)
	assert.True(q.change.ReturnNew)

	// Lost the first-use race
	coll.mockQueries = []*mockQuery{{err: &mgo.LastError{Code: 11000}}, {resultWranger: func(r interface{}) {
		r.(*nonceDoc).Next = 2
	}}}
	coll.queries = nil
	n, err = m.GetAndIncrement(ctx, testFrom)
	assert.NoError(err)
	assert.Equal(uint64(1), n)
	assert.Len(coll.queries, 2)

	coll.mockQueries = []*mockQuery{{err: fmt.Errorf("bang")}}
	_, err = m.GetAndIncrement(ctx, testFrom)
	assert.Regexp("Failed to allocate nonce", err)

	assert.NoError(m.ForceSet(ctx, testFrom, 12))
	assert.Equal(bson.M{"next": uint64(12)}, coll.upserts[0]["$set"])
	coll.upsertErr = fmt.Errorf("bang")
	assert.Regexp("Failed to reset nonce", m.ForceSet(ctx, testFrom, 12))
}
