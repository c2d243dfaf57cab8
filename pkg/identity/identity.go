package identity

import (
	"cmp"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/NiklasVd/tell/pkg/common"
	"golang.org/x/crypto/blake2b"
)

const (
	HashLen        = blake2b.Size256
	FingerprintLen = 4
)

// Identity names a chat participant. Token is the creation time in Unix
// nanoseconds and only serves to tell apart participants sharing a name.
type Identity struct {
	Name  string `msgpack:"n"`
	Token uint64 `msgpack:"k"`
}

var lastToken atomic.Uint64

// New creates an identity for name, stamped with the current time.
func New(name string) (Identity, error) {
	if err := ValidateName(name); err != nil {
		return Identity{}, err
	}
	return Identity{Name: name, Token: nextToken()}, nil
}

// FromParts rebuilds a previously issued identity.
func FromParts(name string, token uint64) (Identity, error) {
	if err := ValidateName(name); err != nil {
		return Identity{}, err
	}
	if token == 0 {
		return Identity{}, fmt.Errorf("%w: zero token", common.ErrInvalidTimestamp)
	}
	return Identity{Name: name, Token: token}, nil
}

func ValidateName(name string) error {
	if len(name) < common.MIN_NAME_LEN || len(name) > common.MAX_NAME_LEN {
		return fmt.Errorf("%w: %q must be %d to %d bytes", common.ErrInvalidName, name, common.MIN_NAME_LEN, common.MAX_NAME_LEN)
	}
	return nil
}

// nextToken returns the current time in nanoseconds, bumped past the last
// issued token so two identities created in one tick still differ.
func nextToken() uint64 {
	for {
		now := uint64(time.Now().UnixNano())
		last := lastToken.Load()
		if now <= last {
			now = last + 1
		}
		if lastToken.CompareAndSwap(last, now) {
			return now
		}
	}
}

func (i Identity) IsZero() bool {
	return i == Identity{}
}

func (i Identity) Hash() []byte {
	buf := make([]byte, 0, len(i.Name)+8)
	buf = append(buf, i.Name...)
	buf = binary.BigEndian.AppendUint64(buf, i.Token)
	sum := blake2b.Sum256(buf)
	return sum[:]
}

func (i Identity) Fingerprint() string {
	return hex.EncodeToString(i.Hash()[:FingerprintLen])
}

func (i Identity) Created() time.Time {
	return time.Unix(0, int64(i.Token))
}

func (i Identity) String() string {
	return fmt.Sprintf("/%s#%s/", i.Name, i.Fingerprint())
}

// Compare orders identities by name, then token.
func Compare(a, b Identity) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Token, b.Token)
}
