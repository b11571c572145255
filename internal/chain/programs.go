package chain

import (
	"encoding/binary"
)

var (
	SystemProgramID          = MustPublicKey("11111111111111111111111111111111")
	Token2022ProgramID       = MustPublicKey("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	AssociatedTokenProgramID = MustPublicKey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	SysvarRentID             = MustPublicKey("SysvarRent111111111111111111111111111111111")
)

// System program instruction tags (u32 little-endian).
const (
	SystemCreateAccount uint32 = 0
	SystemTransfer      uint32 = 2
)

// Token-2022 instruction tags (first data byte).
const (
	TokenInitializeMint              uint8 = 0
	TokenTransferChecked             uint8 = 12
	TokenMintToChecked               uint8 = 14
	TokenInitializePermanentDelegate uint8 = 35
)

// AssociatedTokenCreateIdempotent is the associated token program's create-if-missing tag.
const AssociatedTokenCreateIdempotent uint8 = 1

// AccountMeta describes how an instruction uses an account.
type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation before compilation into a message.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

func signerWritable(pk PublicKey) AccountMeta {
	return AccountMeta{PublicKey: pk, IsSigner: true, IsWritable: true}
}
func writable(pk PublicKey) AccountMeta { return AccountMeta{PublicKey: pk, IsWritable: true} }
func readonly(pk PublicKey) AccountMeta { return AccountMeta{PublicKey: pk} }
func signer(pk PublicKey) AccountMeta   { return AccountMeta{PublicKey: pk, IsSigner: true} }

// CreateAccount allocates space bytes owned by owner, funded by from.
func CreateAccount(from, newAccount PublicKey, lamports, space uint64, owner PublicKey) Instruction {
	data := make([]byte, 52)
	binary.LittleEndian.PutUint32(data[0:], SystemCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []AccountMeta{signerWritable(from), signerWritable(newAccount)},
		Data:      data,
	}
}

// TransferLamports moves native balance between system accounts.
func TransferLamports(from, to PublicKey, lamports uint64) Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], SystemTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []AccountMeta{signerWritable(from), writable(to)},
		Data:      data,
	}
}

// InitializeMint sets the mint's decimals and authorities. A nil freeze authority is
// encoded as an absent option.
func InitializeMint(mint PublicKey, decimals uint8, mintAuthority PublicKey, freezeAuthority *PublicKey, program PublicKey) Instruction {
	data := make([]byte, 0, 67)
	data = append(data, TokenInitializeMint, decimals)
	data = append(data, mintAuthority[:]...)
	if freezeAuthority != nil {
		data = append(data, 1)
		data = append(data, freezeAuthority[:]...)
	} else {
		data = append(data, 0)
	}
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{writable(mint), readonly(SysvarRentID)},
		Data:      data,
	}
}

// InitializePermanentDelegate must precede InitializeMint in the same transaction.
func InitializePermanentDelegate(mint, delegate PublicKey) Instruction {
	data := make([]byte, 0, 33)
	data = append(data, TokenInitializePermanentDelegate)
	data = append(data, delegate[:]...)
	return Instruction{
		ProgramID: Token2022ProgramID,
		Accounts:  []AccountMeta{writable(mint)},
		Data:      data,
	}
}

// MintToChecked mints amount raw units into destination.
func MintToChecked(mint, destination, authority PublicKey, amount uint64, decimals uint8, program PublicKey) Instruction {
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{writable(mint), writable(destination), signer(authority)},
		Data:      checkedAmountData(TokenMintToChecked, amount, decimals),
	}
}

// TransferChecked moves amount raw units; authority is the owner or a delegate.
func TransferChecked(source, mint, destination, authority PublicKey, amount uint64, decimals uint8, program PublicKey) Instruction {
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{writable(source), readonly(mint), writable(destination), signer(authority)},
		Data:      checkedAmountData(TokenTransferChecked, amount, decimals),
	}
}

// CreateAssociatedTokenAccountIdempotent creates owner's token account for mint unless it exists.
func CreateAssociatedTokenAccountIdempotent(payer, associated, owner, mint, program PublicKey) Instruction {
	return Instruction{
		ProgramID: AssociatedTokenProgramID,
		Accounts: []AccountMeta{
			signerWritable(payer),
			writable(associated),
			readonly(owner),
			readonly(mint),
			readonly(SystemProgramID),
			readonly(program),
		},
		Data: []byte{AssociatedTokenCreateIdempotent},
	}
}

func checkedAmountData(tag uint8, amount uint64, decimals uint8) []byte {
	data := make([]byte, 10)
	data[0] = tag
	binary.LittleEndian.PutUint64(data[1:], amount)
	data[9] = decimals
	return data
}
