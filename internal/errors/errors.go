// Copyright 2019,2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	goerrors "errors"
	"fmt"
)

var errDupCheck = map[int]bool{}

type ErrorID interface {
	Code() string
}

type errorID struct {
	code  int
	enMsg string
}

func (e *errorID) Code() string {
	return fmt.Sprintf("ETXS%d", e.code)
}

func e(code int, enMsg string) ErrorID {
	if _, ok := errDupCheck[code]; ok {
		panic(fmt.Sprintf("Duplicate code %d: %s", code, enMsg))
	}
	if code < 100000 || code > 200000 {
		panic(fmt.Sprintf("Invalid code %d: %s", code, enMsg))
	}
	e := &errorID{code, enMsg}
	errDupCheck[code] = true
	return e
}

var (

	// ConfigFileReadFailed failed to read the server config file
	ConfigFileReadFailed = e(100000, "Failed to read %s: %s")
	// ConfigNoYAML missing configuration file on server start
	ConfigNoYAML = e(100001, "No YAML configuration filename specified")
	// ConfigYAMLParseFile failed to parse YAML during server startup
	ConfigYAMLParseFile = e(100002, "Unable to parse %s as YAML: %s")
	// ConfigYAMLPostParseFile failed to process YAML as JSON after parsing
	ConfigYAMLPostParseFile = e(100003, "Failed to process YAML config from %s: %s")
	// ConfigNoRPC missing config for JSON/RPC
	ConfigNoRPC = e(100004, "No JSON/RPC URL set for ethereum node")
	// ConfigTLSCertOrKey incomplete TLS config
	ConfigTLSCertOrKey = e(100005, "Client private key and certificate must both be provided for mutual auth")
	// ConfigKafkaMissingOutputTopic response topic missing
	ConfigKafkaMissingOutputTopic = e(100006, "No output topic specified for notifications")
	// ConfigKafkaMissingBrokers missing/empty brokers
	ConfigKafkaMissingBrokers = e(100007, "No Kafka brokers configured")
	// ConfigKafkaMissingBadSASL problem with SASL config
	ConfigKafkaMissingBadSASL = e(100008, "Username and Password must both be provided for SASL")
	// ConfigStoreUnknownType the store type is not one we support
	ConfigStoreUnknownType = e(100009, "Unknown transaction store type '%s'")
	// ConfigStoreMissingMongoDB the MongoDB section is incomplete
	ConfigStoreMissingMongoDB = e(100010, "MongoDB URL and database must be provided")
	// ConfigStoreMissingLevelDB the LevelDB path is missing
	ConfigStoreMissingLevelDB = e(100011, "LevelDB path must be provided")
	// ConfigRetryScheduleInvalid a negative delay was supplied
	ConfigRetryScheduleInvalid = e(100012, "Invalid retry schedule entry %d: must be positive")
	// ConfigContentionInvalid the concurrency limit must be at least 1
	ConfigContentionInvalid = e(100013, "Maximum concurrency must be at least 1 (supplied %d)")
	// ConfigKeysConflict more than one signing key source configured
	ConfigKeysConflict = e(100014, "Only one of privateKeyHex, privateKeyFile, or keystoreFile can be configured")

	// ContentionTimeout the caller waited too long for an execution slot
	ContentionTimeout = e(100100, "Timed out after %.2fs waiting for an execution slot (%d waiting)")
	// ContentionTaskPanicked the task holding an execution slot panicked
	ContentionTaskPanicked = e(100101, "Task panicked while holding an execution slot: %v")

	// RPCConnectFailed error connecting back to JSON/RPC
	RPCConnectFailed = e(100200, "JSON/RPC connection to %s failed: %s")
	// RPCCallReturnedError specified RPC call returned error
	RPCCallReturnedError = e(100201, "%s returned: %s")
	// RPCCallRetriesExhausted the backoff schedule ran out
	RPCCallRetriesExhausted = e(100202, "%s failed after %d attempts: %s")
	// RPCInvalidResponse the node returned an empty/malformed response
	RPCInvalidResponse = e(100203, "Invalid JSON RPC response: \"%s\"")
	// ReceiptRecoveryNoHash receipt recovery requested without a hash
	ReceiptRecoveryNoHash = e(100204, "Unable to retrieve transaction receipt: no transaction hash")
	// ReceiptRecoveryFailed wraps the send failure when no receipt could be found
	ReceiptRecoveryFailed = e(100205, "Failed getting transaction receipt: %s")
	// ReceiptNotMined the internal signal that the node has not mined the transaction
	ReceiptNotMined = e(100206, "Transaction was not mined yet")
	// ReceiptCheckFailed polling for a receipt ran out of retries
	ReceiptCheckFailed = e(100207, "Failed to check for transaction receipt:\n%s")

	// SignerNoKey no private key supplied for a public transaction
	SignerNoKey = e(100300, "No private key available to sign transaction from %s")
	// SignerSigningFailed the signer failed
	SignerSigningFailed = e(100301, "Failed to sign transaction: %s")
	// SignerBadBody the body could not be converted to a transaction
	SignerBadBody = e(100302, "Invalid transaction body field '%s': %s")
	// KeysLoadFailed the configured signing key could not be loaded
	KeysLoadFailed = e(100303, "Failed to load signing key from %s: %s")
	// KeysAddressMismatch the transaction sender does not match the active key
	KeysAddressMismatch = e(100304, "Transaction from %s does not match the active signing key %s")

	// NonceTooHigh the counter is ahead of the in-flight transactions by more than one
	NonceTooHigh = e(100400, "nonce too high: allocated %d for %s but highest pending nonce is %d")
	// NonceAssignmentConflict lost the race to set the nonce on a transaction
	NonceAssignmentConflict = e(100401, "Transaction %s was assigned a nonce concurrently")
	// NonceAllocationFailed the nonce store failed
	NonceAllocationFailed = e(100402, "Failed to allocate nonce for %s: %s")
	// NonceResetFailed could not reset the counter to the network value
	NonceResetFailed = e(100403, "Failed to reset nonce for %s: %s")

	// TransactionNotFound no transaction with the id
	TransactionNotFound = e(100500, "Transaction %s not found")
	// TransactionStoreFailed generic persistence failure
	TransactionStoreFailed = e(100501, "Transaction store %s failed: %s")
	// TransactionStoreMongoDBConnect failed to connect to MongoDB
	TransactionStoreMongoDBConnect = e(100502, "Unable to connect to MongoDB: %s")
	// TransactionStoreMongoDBIndex failed to create an index
	TransactionStoreMongoDBIndex = e(100503, "Unable to create index: %s")
	// TransactionStoreLevelDBOpen failed to open the LevelDB database
	TransactionStoreLevelDBOpen = e(100504, "Failed to open LevelDB at %s: %s")
	// TransactionStoreRedisConnect failed to ping Redis
	TransactionStoreRedisConnect = e(100505, "Unable to connect to Redis at %s: %s")
	// TransactionSerialize failed to marshal a record for storage
	TransactionSerialize = e(100506, "Failed to serialize transaction %s: %s")
	// TransactionMissingFrom no sending address
	TransactionMissingFrom = e(100507, "Transaction must have a 'from' address")
	// TransactionBadAddress an address did not parse
	TransactionBadAddress = e(100508, "Supplied value for '%s' is not a valid hex address")
	// TransactionAlreadyFinal an attempt to change the status of a completed transaction
	TransactionAlreadyFinal = e(100509, "Transaction %s is already %s")
	// TransactionSendNoHash the send stream ended before the node acknowledged the transaction
	TransactionSendNoHash = e(100510, "Send of transaction %s ended without a transaction hash")

	// NotificationPublishFailed the publisher could not deliver a notification
	NotificationPublishFailed = e(100600, "Failed to publish %s notification for %s: %s")
	// NotificationSerialize the notification could not be serialized
	NotificationSerialize = e(100601, "Failed to serialize notification: %s")
	// NotificationPublisherClosed attempt to publish after close
	NotificationPublisherClosed = e(100602, "Notification publisher is closed")
)

type TxSubmitError interface {
	Code() string
	Error() string
	ErrorNoCode() string
	String() string
	Unwrap() error
}

type txSubmitError struct {
	msg     *errorID
	inserts []interface{}
}

func (e *txSubmitError) ErrorNoCode() string {
	return fmt.Sprintf(e.msg.enMsg, e.inserts...)
}

func (e *txSubmitError) Error() string {
	return fmt.Sprintf("%s: %s", e.msg.Code(), e.ErrorNoCode())
}

func (e *txSubmitError) Code() string {
	return e.msg.Code()
}

func (e *txSubmitError) String() string {
	return e.Error()
}

// Unwrap returns the first insert that is itself an error
func (e *txSubmitError) Unwrap() error {
	for _, i := range e.inserts {
		if err, ok := i.(error); ok {
			return err
		}
	}
	return nil
}

// IsCode checks whether err, or anything it wraps, was created from the supplied ErrorID
func IsCode(err error, id ErrorID) bool {
	for err != nil {
		if tse, ok := err.(TxSubmitError); ok && tse.Code() == id.Code() {
			return true
		}
		err = goerrors.Unwrap(err)
	}
	return false
}

// Errorf creates an error (not yet translated, but an extensible interface for that using simple sprintf formatting rather than named i18n inserts)
func Errorf(msg ErrorID, inserts ...interface{}) TxSubmitError {
	return &txSubmitError{msg.(*errorID), inserts}
}
