package cache

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/miekg/dns"
)

// snapshotMagic identifies a binary cache snapshot; snapshotVersion allows
// the on-disk layout to change without breaking detection of older files.
var snapshotMagic = [4]byte{'D', 'N', 'S', 'C'}

const snapshotVersion = uint8(1)

// legacyJSONPrefix is how a pre-binary-format snapshot is recognized: the
// old format was a JSON object, so its first byte is '{'. Legacy files are accepted for one migration cycle and simply
// skipped rather than parsed, since their entries are expected to have
// expired long before this format existed in a live deployment.
const legacyJSONPrefix = '{'

type snapshotRecord struct {
	Hash            uint64
	Wire            []byte
	ExpiresAt       time.Time
	OrigTTL         uint32
	InsertedAt      time.Time
	Negative        bool
	DNSSECValidated bool
	DNSSECBogus     bool
	QName           string
	QType           uint16
	QClass          uint16
}

type snapshotFile struct {
	SavedAt time.Time
	Records []snapshotRecord
}

// SaveSnapshot writes the entire live cache to w as a versioned binary blob.
// Expired entries are skipped rather than persisted.
func (c *ShardedCache) SaveSnapshot(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(snapshotMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := bw.WriteByte(snapshotVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}

	sf := snapshotFile{SavedAt: time.Now()}
	c.ForEach(func(hash uint64, e *Entry) {
		if e.IsExpired() {
			return
		}
		wire, err := e.Msg.Pack()
		if err != nil {
			return
		}
		sf.Records = append(sf.Records, snapshotRecord{
			Hash:            hash,
			Wire:            wire,
			ExpiresAt:       e.ExpiresAt,
			OrigTTL:         e.OrigTTL,
			InsertedAt:      e.InsertedAt,
			Negative:        e.Negative,
			DNSSECValidated: e.DNSSECValidated,
			DNSSECBogus:     e.DNSSECBogus,
			QName:           e.QName,
			QType:           e.QType,
			QClass:          e.QClass,
		})
	})

	if err := gob.NewEncoder(bw).Encode(&sf); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return bw.Flush()
}

// LoadSnapshot populates the cache from r, dropping any entry that has
// already expired. A legacy JSON snapshot (detected by its leading '{') is
// recognized and skipped rather than rejected outright, per the one-cycle
// migration allowance.
func (c *ShardedCache) LoadSnapshot(r io.Reader) (int, error) {
	br := bufio.NewReader(r)

	first, err := br.Peek(1)
	if err == nil && len(first) == 1 && first[0] == legacyJSONPrefix {
		return 0, nil
	}

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("read magic: %w", err)
	}
	if magic != snapshotMagic {
		return 0, fmt.Errorf("unrecognized snapshot format")
	}

	version, err := br.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	if version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", version)
	}

	var sf snapshotFile
	if err := gob.NewDecoder(br).Decode(&sf); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}

	loaded := 0
	now := time.Now()
	for _, rec := range sf.Records {
		if rec.ExpiresAt.Before(now) {
			continue
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(rec.Wire); err != nil {
			continue
		}
		c.Set(rec.Hash, &Entry{
			Msg:             msg,
			ExpiresAt:       rec.ExpiresAt,
			OrigTTL:         rec.OrigTTL,
			InsertedAt:      rec.InsertedAt,
			Negative:        rec.Negative,
			DNSSECValidated: rec.DNSSECValidated,
			DNSSECBogus:     rec.DNSSECBogus,
			QName:           rec.QName,
			QType:           rec.QType,
			QClass:          rec.QClass,
		})
		loaded++
	}
	return loaded, nil
}

// SaveSnapshotFile is a convenience wrapper writing the snapshot to path.
func (c *ShardedCache) SaveSnapshotFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()
	return c.SaveSnapshot(f)
}

// LoadSnapshotFile is a convenience wrapper reading the snapshot from path.
// A missing file is not an error: startup just proceeds with an empty cache.
func (c *ShardedCache) LoadSnapshotFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	return c.LoadSnapshot(f)
}
