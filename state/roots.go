// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"crypto/sha256"
	"encoding/binary"
	hashpkg "hash"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
)

// Root computation is a protocol constant shared by every replica:
//
//   - stateRoot is SHA-256 over the full account set followed by the full
//     storage set, each keyspace in ascending byte order of keys, every key
//     and value length-prefixed and the two keyspaces domain-separated. The
//     ordering is pinned here, never inherited from map iteration.
//   - receiptsRoot is SHA-256 over the encoded receipts in execution order.
//     Order matters: reordering transactions changes the root.
//   - appHash is SHA-256(stateRoot || receiptsRoot), concatenated in exactly
//     that order.
const (
	domainAccount byte = 0x61
	domainStorage byte = 0x73
)

func writeEntry(h hashpkg.Hash, domain byte, key, value []byte) {
	var scratch [4]byte
	h.Write([]byte{domain})
	binary.BigEndian.PutUint32(scratch[:], uint32(len(key)))
	h.Write(scratch[:])
	h.Write(key)
	binary.BigEndian.PutUint32(scratch[:], uint32(len(value)))
	h.Write(scratch[:])
	h.Write(value)
}

// stateRootOf accumulates the canonical root over the final account and
// storage sets as seen through [accountDB] and [storageDB]. The database
// iterators yield keys in ascending byte order, which is the canonical
// order.
func stateRootOf(accountDB, storageDB database.Database) (ids.ID, error) {
	h := sha256.New()

	accountIt := accountDB.NewIterator()
	defer accountIt.Release()
	for accountIt.Next() {
		writeEntry(h, domainAccount, accountIt.Key(), accountIt.Value())
	}
	if err := accountIt.Error(); err != nil {
		return ids.Empty, err
	}

	storageIt := storageDB.NewIterator()
	defer storageIt.Release()
	for storageIt.Next() {
		writeEntry(h, domainStorage, storageIt.Key(), storageIt.Value())
	}
	if err := storageIt.Error(); err != nil {
		return ids.Empty, err
	}

	var root ids.ID
	copy(root[:], h.Sum(nil))
	return root, nil
}

// ReceiptsRoot accumulates the root over encoded receipts in execution
// order. The root of the empty sequence is SHA-256 of the empty string.
func ReceiptsRoot(receipts [][]byte) ids.ID {
	h := sha256.New()
	var scratch [4]byte
	for _, receipt := range receipts {
		binary.BigEndian.PutUint32(scratch[:], uint32(len(receipt)))
		h.Write(scratch[:])
		h.Write(receipt)
	}
	var root ids.ID
	copy(root[:], h.Sum(nil))
	return root
}

// AppHash binds the two roots into the digest the consensus engine commits
// into the next block header.
func AppHash(stateRoot, receiptsRoot ids.ID) ids.ID {
	return hash.ComputeHash256Array(append(stateRoot[:], receiptsRoot[:]...))
}
