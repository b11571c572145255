package chain

import (
	"errors"
	"fmt"
)

// ErrMalformedTransaction is returned when wire bytes cannot be decoded.
var ErrMalformedTransaction = errors.New("malformed transaction")

// MessageHeader counts signer and read-only accounts in the key list.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into the message key list.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is a legacy transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// NewMessage compiles instructions with payer as fee payer. Keys are ordered writable
// signers, read-only signers, writable non-signers, read-only non-signers; the payer is
// always first.
func NewMessage(payer PublicKey, instructions []Instruction, blockhash Hash) (Message, error) {
	if len(instructions) == 0 {
		return Message{}, errors.New("compile message: no instructions")
	}

	type flags struct{ signer, writable bool }
	order := []PublicKey{payer}
	seen := map[PublicKey]*flags{payer: {signer: true, writable: true}}
	add := func(pk PublicKey, signer, writable bool) {
		f, ok := seen[pk]
		if !ok {
			f = &flags{}
			seen[pk] = f
			order = append(order, pk)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			add(meta.PublicKey, meta.IsSigner, meta.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}
	if len(order) > 256 {
		return Message{}, errors.New("compile message: too many accounts")
	}

	var groups [4][]PublicKey
	for _, pk := range order {
		f := seen[pk]
		switch {
		case f.signer && f.writable:
			groups[0] = append(groups[0], pk)
		case f.signer:
			groups[1] = append(groups[1], pk)
		case f.writable:
			groups[2] = append(groups[2], pk)
		default:
			groups[3] = append(groups[3], pk)
		}
	}

	msg := Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(groups[0]) + len(groups[1])),
			NumReadonlySignedAccounts:   uint8(len(groups[1])),
			NumReadonlyUnsignedAccounts: uint8(len(groups[3])),
		},
		RecentBlockhash: blockhash,
	}
	index := make(map[PublicKey]uint8, len(order))
	for _, g := range groups {
		for _, pk := range g {
			index[pk] = uint8(len(msg.AccountKeys))
			msg.AccountKeys = append(msg.AccountKeys, pk)
		}
	}
	for _, ix := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Accounts:       make([]uint8, len(ix.Accounts)),
			Data:           append([]byte(nil), ix.Data...),
		}
		for i, meta := range ix.Accounts {
			ci.Accounts[i] = index[meta.PublicKey]
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// Signers returns the keys that must sign, fee payer first.
func (m Message) Signers() []PublicKey {
	n := int(m.Header.NumRequiredSignatures)
	if n > len(m.AccountKeys) {
		n = len(m.AccountKeys)
	}
	return m.AccountKeys[:n]
}

func (m Message) IsSigner(i int) bool { return i < int(m.Header.NumRequiredSignatures) }

func (m Message) IsWritable(i int) bool {
	signed := int(m.Header.NumRequiredSignatures)
	if i < signed {
		return i < signed-int(m.Header.NumReadonlySignedAccounts)
	}
	return i < len(m.AccountKeys)-int(m.Header.NumReadonlyUnsignedAccounts)
}

// Serialize encodes the message in wire form; this is the byte string signers sign.
func (m Message) Serialize() []byte {
	b := make([]byte, 0, 3+1+len(m.AccountKeys)*PublicKeySize+32+64*len(m.Instructions))
	b = append(b, m.Header.NumRequiredSignatures, m.Header.NumReadonlySignedAccounts, m.Header.NumReadonlyUnsignedAccounts)
	b = appendShortVec(b, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		b = append(b, k[:]...)
	}
	b = append(b, m.RecentBlockhash[:]...)
	b = appendShortVec(b, len(m.Instructions))
	for _, ix := range m.Instructions {
		b = append(b, ix.ProgramIDIndex)
		b = appendShortVec(b, len(ix.Accounts))
		b = append(b, ix.Accounts...)
		b = appendShortVec(b, len(ix.Data))
		b = append(b, ix.Data...)
	}
	return b
}

// DecodeMessage parses a wire message and checks every index is in range.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	r := reader{buf: b}
	hdr := r.next(3)
	keyCount := r.shortVec()
	if r.err != nil {
		return m, r.fail("header")
	}
	m.Header = MessageHeader{hdr[0], hdr[1], hdr[2]}
	for i := 0; i < keyCount; i++ {
		var pk PublicKey
		copy(pk[:], r.next(PublicKeySize))
		m.AccountKeys = append(m.AccountKeys, pk)
	}
	copy(m.RecentBlockhash[:], r.next(32))
	ixCount := r.shortVec()
	for i := 0; i < ixCount && r.err == nil; i++ {
		var ci CompiledInstruction
		ci.ProgramIDIndex = r.readByte()
		ci.Accounts = append([]uint8(nil), r.next(r.shortVec())...)
		ci.Data = append([]byte(nil), r.next(r.shortVec())...)
		m.Instructions = append(m.Instructions, ci)
	}
	if r.err != nil {
		return Message{}, r.fail("body")
	}
	if len(r.buf) != r.off {
		return Message{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, len(r.buf)-r.off)
	}
	if int(m.Header.NumRequiredSignatures) > len(m.AccountKeys) ||
		int(m.Header.NumReadonlySignedAccounts) > int(m.Header.NumRequiredSignatures) ||
		int(m.Header.NumReadonlyUnsignedAccounts) > len(m.AccountKeys)-int(m.Header.NumRequiredSignatures) {
		return Message{}, fmt.Errorf("%w: inconsistent header", ErrMalformedTransaction)
	}
	for _, ix := range m.Instructions {
		if int(ix.ProgramIDIndex) >= len(m.AccountKeys) {
			return Message{}, fmt.Errorf("%w: program index out of range", ErrMalformedTransaction)
		}
		for _, a := range ix.Accounts {
			if int(a) >= len(m.AccountKeys) {
				return Message{}, fmt.Errorf("%w: account index out of range", ErrMalformedTransaction)
			}
		}
	}
	return m, nil
}

// Instruction expands a compiled instruction back into keys and flags.
func (m Message) Instruction(i int) Instruction {
	ci := m.Instructions[i]
	ix := Instruction{ProgramID: m.AccountKeys[ci.ProgramIDIndex], Data: ci.Data}
	for _, a := range ci.Accounts {
		ix.Accounts = append(ix.Accounts, AccountMeta{
			PublicKey:  m.AccountKeys[a],
			IsSigner:   m.IsSigner(int(a)),
			IsWritable: m.IsWritable(int(a)),
		})
	}
	return ix
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil || n < 0 || r.off+n > len(r.buf) {
		if r.err == nil {
			r.err = errors.New("unexpected end of data")
		}
		return make([]byte, max(n, 0))
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) readByte() byte { return r.next(1)[0] }

func (r *reader) shortVec() int {
	if r.err != nil {
		return 0
	}
	n, size, err := readShortVec(r.buf[r.off:])
	if err != nil {
		r.err = err
		return 0
	}
	r.off += size
	return n
}

func (r *reader) fail(section string) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedTransaction, section, r.err)
}
