// Package keystore derives and caches per-device symmetric keys.
//
// Every device key is computed from a shared 16-byte master secret and the
// device's 64-bit identifier:
//
//	key = Hash(master || BigEndian64(deviceID))[0:16]
//
// Keys are never persisted. The cache is shared by all connections and is safe
// for concurrent use.
package keystore

import (
	"encoding/binary"
	"strconv"

	lrucache "github.com/cognusion/go-cache-lru"
	"github.com/pion/logging"
)

const (
	// MasterKeySize is the required master key length in bytes.
	MasterKeySize = 16

	// KeySize is the length of a derived device key in bytes.
	KeySize = 16

	// DefaultMaxCachedKeys bounds the key cache when Config.MaxCachedKeys is zero.
	DefaultMaxCachedKeys = 4096
)

// Config configures a KeyStore.
type Config struct {
	// MasterKey is the 16-byte shared secret. Required.
	MasterKey []byte

	// KDF selects the derivation hash (default: KDFAsconHash256).
	KDF KDF

	// MaxCachedKeys bounds the number of cached keys. Least recently used
	// keys are evicted and re-derived on demand.
	MaxCachedKeys int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// KeyStore derives device keys from a master secret and caches them.
type KeyStore struct {
	master  [MasterKeySize]byte
	kdf     KDF
	cache   *lrucache.Cache
	maxKeys int
	log     logging.LeveledLogger
}

// New creates a KeyStore using ASCON-Hash256 and default cache bounds.
func New(masterKey []byte) (*KeyStore, error) {
	return NewWithConfig(Config{MasterKey: masterKey})
}

// NewWithConfig creates a KeyStore from a Config.
func NewWithConfig(config Config) (*KeyStore, error) {
	if len(config.MasterKey) != MasterKeySize {
		return nil, ErrInvalidMasterKeyLength
	}
	if !config.KDF.IsValid() {
		return nil, ErrUnknownKDF
	}

	maxKeys := config.MaxCachedKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxCachedKeys
	}

	ks := &KeyStore{
		kdf: config.KDF,
		// No janitor: entries never expire and the bound is enforced on
		// insert by DeviceKey.
		cache:   lrucache.NewWithLRU(lrucache.NoExpiration, 0, maxKeys),
		maxKeys: maxKeys,
	}
	copy(ks.master[:], config.MasterKey)

	if config.LoggerFactory != nil {
		ks.log = config.LoggerFactory.NewLogger("keystore")
	}

	return ks, nil
}

// DeviceKey returns the key for deviceID, deriving and caching it on first use.
// Concurrent callers for the same device all observe the same cached key.
// The returned slice is a copy owned by the caller.
func (ks *KeyStore) DeviceKey(deviceID uint64) []byte {
	cacheKey := strconv.FormatUint(deviceID, 16)

	if v, ok := ks.cache.Get(cacheKey); ok {
		return cloneKey(v.([KeySize]byte))
	}

	key := ks.derive(deviceID)

	// Add fails if another goroutine inserted first; use the winner's key.
	if err := ks.cache.Add(cacheKey, key, lrucache.NoExpiration); err != nil {
		if v, ok := ks.cache.Get(cacheKey); ok {
			return cloneKey(v.([KeySize]byte))
		}
	} else {
		if ks.cache.ItemCount() > ks.maxKeys {
			ks.cache.DeleteLRU()
		}
		if ks.log != nil {
			ks.log.Debugf("derived key for device %016X", deviceID)
		}
	}

	return cloneKey(key)
}

// ClearCache discards all cached keys. Subsequent lookups re-derive.
func (ks *KeyStore) ClearCache() {
	ks.cache.Flush()
	if ks.log != nil {
		ks.log.Debug("key cache cleared")
	}
}

// Len returns the number of cached keys. It never exceeds the configured
// MaxCachedKeys.
func (ks *KeyStore) Len() int {
	return ks.cache.ItemCount()
}

// KDF returns the derivation function in use.
func (ks *KeyStore) KDF() KDF {
	return ks.kdf
}

func (ks *KeyStore) derive(deviceID uint64) [KeySize]byte {
	input := make([]byte, MasterKeySize+8)
	copy(input, ks.master[:])
	binary.BigEndian.PutUint64(input[MasterKeySize:], deviceID)

	var key [KeySize]byte
	copy(key[:], ks.kdf.digest(input))
	return key
}

func cloneKey(k [KeySize]byte) []byte {
	out := make([]byte, KeySize)
	copy(out, k[:])
	return out
}
