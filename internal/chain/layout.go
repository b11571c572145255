package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// TokenAccountSize is the base token account length.
	TokenAccountSize = 165
	// MintSize is the base mint length.
	MintSize = 82
	// MintWithPermanentDelegateSize is a mint padded to the account-type byte followed by
	// one PermanentDelegate TLV entry.
	MintWithPermanentDelegateSize = TokenAccountSize + 1 + 4 + PublicKeySize
	// TokenAccountWithImmutableOwnerSize is what the associated token program allocates
	// for Token-2022 accounts.
	TokenAccountWithImmutableOwnerSize = TokenAccountSize + 1 + 4

	tokenAmountOffset  = 64
	mintDecimalsOffset = 44
	accountTypeOffset  = TokenAccountSize
)

// Account type marker written after the base layout when extensions are present.
const (
	AccountTypeMint    uint8 = 1
	AccountTypeAccount uint8 = 2
)

// Extension type tags in the TLV area.
const (
	ExtensionImmutableOwner    uint16 = 7
	ExtensionPermanentDelegate uint16 = 12
)

// Token account states.
const (
	AccountStateUninitialized uint8 = 0
	AccountStateInitialized   uint8 = 1
	AccountStateFrozen        uint8 = 2
)

// ErrShortAccountData is returned when account bytes are shorter than the layout needs.
var ErrShortAccountData = errors.New("account data too short")

// ParseTokenAmount reads the u64 little-endian balance at offset 64.
func ParseTokenAmount(data []byte) (uint64, error) {
	if len(data) < tokenAmountOffset+8 {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortAccountData, len(data))
	}
	return binary.LittleEndian.Uint64(data[tokenAmountOffset:]), nil
}

// TokenAccount is the decoded base layout of a token account.
type TokenAccount struct {
	Mint            PublicKey
	Owner           PublicKey
	Amount          uint64
	Delegate        *PublicKey
	State           uint8
	DelegatedAmount uint64
	CloseAuthority  *PublicKey
	ImmutableOwner  bool
}

// ParseTokenAccount decodes the base layout and the immutable-owner extension.
func ParseTokenAccount(data []byte) (TokenAccount, error) {
	if len(data) < TokenAccountSize {
		return TokenAccount{}, fmt.Errorf("%w: token account is %d bytes", ErrShortAccountData, len(data))
	}
	var a TokenAccount
	copy(a.Mint[:], data[0:32])
	copy(a.Owner[:], data[32:64])
	a.Amount = binary.LittleEndian.Uint64(data[64:72])
	a.Delegate = readOptionKey(data[72:108])
	a.State = data[108]
	a.DelegatedAmount = binary.LittleEndian.Uint64(data[121:129])
	a.CloseAuthority = readOptionKey(data[129:165])
	if len(data) > TokenAccountSize {
		exts, err := parseExtensions(data, AccountTypeAccount)
		if err != nil {
			return TokenAccount{}, err
		}
		_, a.ImmutableOwner = exts[ExtensionImmutableOwner]
	}
	return a, nil
}

// EncodeTokenAccount writes an initialized account with the immutable-owner extension.
func EncodeTokenAccount(a TokenAccount) []byte {
	size := TokenAccountSize
	if a.ImmutableOwner {
		size = TokenAccountWithImmutableOwnerSize
	}
	data := make([]byte, size)
	copy(data[0:], a.Mint[:])
	copy(data[32:], a.Owner[:])
	binary.LittleEndian.PutUint64(data[64:], a.Amount)
	writeOptionKey(data[72:108], a.Delegate)
	data[108] = a.State
	binary.LittleEndian.PutUint64(data[121:], a.DelegatedAmount)
	writeOptionKey(data[129:165], a.CloseAuthority)
	if a.ImmutableOwner {
		data[accountTypeOffset] = AccountTypeAccount
		binary.LittleEndian.PutUint16(data[166:], ExtensionImmutableOwner)
		binary.LittleEndian.PutUint16(data[168:], 0)
	}
	return data
}

// Mint is the decoded mint layout plus the permanent delegate extension.
type Mint struct {
	MintAuthority     *PublicKey
	Supply            uint64
	Decimals          uint8
	IsInitialized     bool
	FreezeAuthority   *PublicKey
	PermanentDelegate *PublicKey
}

// ParseMint decodes a mint account.
func ParseMint(data []byte) (Mint, error) {
	if len(data) < MintSize {
		return Mint{}, fmt.Errorf("%w: mint is %d bytes", ErrShortAccountData, len(data))
	}
	m := Mint{
		MintAuthority:   readOptionKey(data[0:36]),
		Supply:          binary.LittleEndian.Uint64(data[36:44]),
		Decimals:        data[mintDecimalsOffset],
		IsInitialized:   data[45] == 1,
		FreezeAuthority: readOptionKey(data[46:82]),
	}
	if len(data) > MintSize {
		exts, err := parseExtensions(data, AccountTypeMint)
		if err != nil {
			return Mint{}, err
		}
		if v, ok := exts[ExtensionPermanentDelegate]; ok && len(v) == PublicKeySize {
			var pk PublicKey
			copy(pk[:], v)
			if !pk.IsZero() {
				m.PermanentDelegate = &pk
			}
		}
	}
	return m, nil
}

// EncodeMint writes m into a buffer of size bytes; size must be MintSize or leave room
// for the permanent delegate extension.
func EncodeMint(m Mint, size int) ([]byte, error) {
	if size != MintSize && size < MintWithPermanentDelegateSize {
		return nil, fmt.Errorf("%w: cannot encode mint into %d bytes", ErrShortAccountData, size)
	}
	data := make([]byte, size)
	writeOptionKey(data[0:36], m.MintAuthority)
	binary.LittleEndian.PutUint64(data[36:], m.Supply)
	data[mintDecimalsOffset] = m.Decimals
	if m.IsInitialized {
		data[45] = 1
	}
	writeOptionKey(data[46:82], m.FreezeAuthority)
	if size > MintSize {
		data[accountTypeOffset] = AccountTypeMint
		binary.LittleEndian.PutUint16(data[166:], ExtensionPermanentDelegate)
		binary.LittleEndian.PutUint16(data[168:], PublicKeySize)
		if m.PermanentDelegate != nil {
			copy(data[170:], m.PermanentDelegate[:])
		}
	}
	return data, nil
}

func parseExtensions(data []byte, want uint8) (map[uint16][]byte, error) {
	if len(data) <= accountTypeOffset {
		return nil, fmt.Errorf("%w: extension area missing", ErrShortAccountData)
	}
	if data[accountTypeOffset] != want {
		return nil, fmt.Errorf("unexpected account type %d", data[accountTypeOffset])
	}
	exts := make(map[uint16][]byte)
	off := accountTypeOffset + 1
	for off+4 <= len(data) {
		typ := binary.LittleEndian.Uint16(data[off:])
		length := int(binary.LittleEndian.Uint16(data[off+2:]))
		off += 4
		if typ == 0 && length == 0 {
			break
		}
		if off+length > len(data) {
			return nil, fmt.Errorf("%w: extension %d truncated", ErrShortAccountData, typ)
		}
		exts[typ] = data[off : off+length]
		off += length
	}
	return exts, nil
}

func readOptionKey(b []byte) *PublicKey {
	if binary.LittleEndian.Uint32(b[0:4]) == 0 {
		return nil
	}
	var pk PublicKey
	copy(pk[:], b[4:36])
	return &pk
}

func writeOptionKey(b []byte, pk *PublicKey) {
	if pk == nil {
		return
	}
	binary.LittleEndian.PutUint32(b[0:4], 1)
	copy(b[4:], pk[:])
}
