// Package objdb implements the typed object database: packed object ids
// (C1), a per-(space,type) index registry with secondary indices (C2), and
// a nested undo session stack (C3).
package objdb

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Space distinguishes protocol objects from implementation-detail objects.
type Space uint8

const (
	// SpaceRelative holds no real objects; instance is an operation index
	// within the currently-evaluating transaction, used to resolve
	// relative-id references (spec §4.3).
	SpaceRelative Space = 0
	// SpaceProtocol holds user-facing protocol objects (accounts, assets, ...).
	SpaceProtocol Space = 1
	// SpaceImplementation holds internal side objects (dynamic asset data, ...).
	SpaceImplementation Space = 2
)

// Type enumerates object types within SpaceProtocol.
type Type uint8

const (
	TypeKey Type = iota
	TypeAccount
	TypeAsset
	TypeDelegate
	TypeWitness
	TypeLimitOrder
	TypeShortOrder
	TypeCallOrder
	TypeProposal
	TypeWithdrawPermission
	TypeVestingBalance
	TypeWorker
	TypeForceSettlement
)

// Types within SpaceImplementation.
const (
	TypeAccountBalance Type = iota
	TypeDynamicAssetData
	TypeBitassetData
	TypeGlobalProperty
)

// ID identifies an object uniquely and stably across snapshots and forks:
// the tuple (space,type,instance). Instance occupies the low 48 bits.
type ID struct {
	Space    Space
	Type     Type
	Instance uint64
}

// New builds an ID, masking Instance to 48 bits as the wire form requires.
func New(space Space, typ Type, instance uint64) ID {
	return ID{Space: space, Type: typ, Instance: instance & 0xFFFFFFFFFFFF}
}

// Relative builds a relative-protocol-id reference to the opIndex-th
// operation of the currently evaluating transaction.
func Relative(opIndex uint64) ID {
	return ID{Space: SpaceRelative, Instance: opIndex}
}

// IsRelative reports whether id is a same-transaction relative reference.
func (id ID) IsRelative() bool { return id.Space == SpaceRelative }

// String renders the textual "S.T.I" wire form.
func (id ID) String() string {
	return fmt.Sprintf("%d.%d.%d", id.Space, id.Type, id.Instance)
}

// Parse decodes the textual "S.T.I" wire form.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("objdb: malformed object id %q", s)
	}
	nums := make([]uint64, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("objdb: malformed object id %q: %w", s, err)
		}
		nums[i] = n
	}
	if nums[0] > 255 || nums[1] > 255 {
		return ID{}, fmt.Errorf("objdb: space/type out of range in %q", s)
	}
	return New(Space(nums[0]), Type(nums[1]), nums[2]), nil
}

// Bytes encodes the binary wire form: an 8-byte little-endian word with
// space in the high 8 bits, type in the next 8, instance in the low 48.
func (id ID) Bytes() [8]byte {
	word := uint64(id.Space)<<56 | uint64(id.Type)<<48 | (id.Instance & 0xFFFFFFFFFFFF)
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], word)
	return out
}

// FromBytes decodes the binary wire form produced by Bytes.
func FromBytes(b [8]byte) ID {
	word := binary.LittleEndian.Uint64(b[:])
	return ID{
		Space:    Space(word >> 56),
		Type:     Type((word >> 48) & 0xFF),
		Instance: word & 0xFFFFFFFFFFFF,
	}
}

// MarshalText implements encoding.TextMarshaler so IDs serialize to JSON
// as the "S.T.I" wire string rather than a struct.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
