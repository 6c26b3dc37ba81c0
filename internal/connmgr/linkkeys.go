package connmgr

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/golang-lru"

	"github.com/btsinkd/btsinkd/pkg/btaddr"
)

// LinkKey is a 16-byte BR/EDR combination or unit key, as returned in a
// LinkKeyNotification event or supplied in a LinkKeyRequestReply command.
type LinkKey [16]byte

// linkKeyCacheSize bounds the in-memory read cache fronting the on-disk
// store; the store itself holds every key that has ever been written.
const linkKeyCacheSize = 128

// LinkKeyStore persists RemoteAddress -> LinkKey pairs to a flat file and
// serves reads through an LRU cache, matching a remote device's
// expectation that re-pairing is unnecessary once a link key has been
// negotiated once (Bluetooth Core spec, Vol 3 Part C, Section 4.2.3).
//
// The on-disk format is one "addr key\n" hex-encoded line per entry,
// appended on every Put; a store load replays the whole file, so the most
// recent line for a given address wins.
type LinkKeyStore struct {
	path string

	mu    sync.Mutex
	file  *os.File
	cache *lru.Cache
}

// OpenLinkKeyStore opens (creating if necessary) the link-key store at
// path and replays its contents into the read cache.
func OpenLinkKeyStore(path string) (*LinkKeyStore, error) {
	cache, err := lru.New(linkKeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("connmgr: link key cache: %w", err)
	}
	s := &LinkKeyStore{path: path, cache: cache}
	if err := s.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("connmgr: opening link key store %s: %w", path, err)
	}
	s.file = f
	return s, nil
}

func (s *LinkKeyStore) load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("connmgr: reading link key store %s: %w", s.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		addr, key, err := parseLinkKeyLine(line)
		if err != nil {
			continue
		}
		s.cache.Add(addr, key)
	}
	return scanner.Err()
}

func parseLinkKeyLine(line string) (btaddr.Addr, LinkKey, error) {
	var addr btaddr.Addr
	var key LinkKey
	if len(line) != 12+1+32 {
		return addr, key, fmt.Errorf("connmgr: malformed link key line")
	}
	addrBytes, err := hex.DecodeString(line[:12])
	if err != nil || len(addrBytes) != 6 {
		return addr, key, fmt.Errorf("connmgr: malformed link key address")
	}
	keyBytes, err := hex.DecodeString(line[13:])
	if err != nil || len(keyBytes) != 16 {
		return addr, key, fmt.Errorf("connmgr: malformed link key value")
	}
	copy(addr[:], addrBytes)
	copy(key[:], keyBytes)
	return addr, key, nil
}

// Get returns the stored link key for addr, if any. It consults only the
// read cache, which is filled from the file at open and by Put; once more
// than linkKeyCacheSize addresses are stored, keys evicted from the cache
// are not found even though the file still holds them.
func (s *LinkKeyStore) Get(addr btaddr.Addr) (LinkKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(addr)
	if !ok {
		return LinkKey{}, false
	}
	return v.(LinkKey), true
}

// Put records a newly negotiated link key for addr, both in the read
// cache and durably on disk.
func (s *LinkKeyStore) Put(addr btaddr.Addr, key LinkKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := hex.EncodeToString(addr[:]) + " " + hex.EncodeToString(key[:]) + "\n"
	if _, err := s.file.WriteString(line); err != nil {
		return fmt.Errorf("connmgr: writing link key store: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("connmgr: syncing link key store: %w", err)
	}
	s.cache.Add(addr, key)
	return nil
}

// Close releases the underlying file handle.
func (s *LinkKeyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
