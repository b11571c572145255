package chain

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func seqBytes(start byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = start + byte(i)
	}
	return b
}

func testKeypair(t *testing.T, seed byte) Keypair {
	t.Helper()
	kp, err := KeypairFromSeed(bytes.Repeat([]byte{seed}, 32))
	require.NoError(t, err)
	return kp
}

func TestProgramIDs(t *testing.T) {
	require.True(t, SystemProgramID.IsZero())
	require.Equal(t, "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb", Token2022ProgramID.String())
}

func TestPublicKeyText(t *testing.T) {
	kp := testKeypair(t, 1)
	text, err := kp.PublicKey().MarshalText()
	require.NoError(t, err)
	var back PublicKey
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, kp.PublicKey(), back)

	_, err = PublicKeyFromBase58("0OIl")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = PublicKeyFromBase58("abc")
	require.ErrorIs(t, err, ErrInvalidKey)
	require.Equal(t, "Toke...xuEb", Token2022ProgramID.Short())
}

func TestKeypairFromBytesChecksPublicHalf(t *testing.T) {
	kp := testKeypair(t, 5)
	again, err := KeypairFromBytes(kp.Bytes())
	require.NoError(t, err)
	require.Equal(t, kp.PublicKey(), again.PublicKey())

	bad := kp.Bytes()
	bad[63] ^= 1
	_, err = KeypairFromBytes(bad)
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = KeypairFromBytes(bad[:10])
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestAssociatedTokenAddress(t *testing.T) {
	owner, err := PublicKeyFromBytes(seqBytes(0))
	require.NoError(t, err)
	mint, err := PublicKeyFromBytes(seqBytes(32))
	require.NoError(t, err)

	ata, err := FindAssociatedTokenAddress(owner, mint, Token2022ProgramID)
	require.NoError(t, err)
	require.Equal(t, "AZ9kyGT9zUZNbytJQcnxJcwmnmZFtkZ532asATWauNjW", ata.String())
	require.False(t, IsOnCurve(ata[:]))

	again, err := FindAssociatedTokenAddress(owner, mint, Token2022ProgramID)
	require.NoError(t, err)
	require.Equal(t, ata, again)
}

func TestProgramAddressRejectsLongSeeds(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, 33)}, AssociatedTokenProgramID)
	require.ErrorIs(t, err, ErrInvalidSeeds)
	_, _, err = FindProgramAddress(make([][]byte, 16), AssociatedTokenProgramID)
	require.ErrorIs(t, err, ErrInvalidSeeds)
}

func TestKeypairIsOnCurve(t *testing.T) {
	kp := testKeypair(t, 9)
	pk := kp.PublicKey()
	require.True(t, IsOnCurve(pk[:]))
}

func TestShortVec(t *testing.T) {
	cases := map[int][]byte{
		0:     {0x00},
		127:   {0x7f},
		128:   {0x80, 0x01},
		16383: {0xff, 0x7f},
		16384: {0x80, 0x80, 0x01},
	}
	for n, want := range cases {
		got := appendShortVec(nil, n)
		require.Equal(t, want, got, n)
		back, size, err := readShortVec(got)
		require.NoError(t, err)
		require.Equal(t, n, back)
		require.Equal(t, len(want), size)
	}
	_, _, err := readShortVec([]byte{0x80})
	require.Error(t, err)
}

func TestInstructionData(t *testing.T) {
	a, b, c := testKeypair(t, 1).PublicKey(), testKeypair(t, 2).PublicKey(), testKeypair(t, 3).PublicKey()

	create := CreateAccount(a, b, 1000, MintWithPermanentDelegateSize, Token2022ProgramID)
	require.Len(t, create.Data, 52)
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(create.Data))
	require.Equal(t, uint64(1000), binary.LittleEndian.Uint64(create.Data[4:]))
	require.Equal(t, uint64(202), binary.LittleEndian.Uint64(create.Data[12:]))
	require.Equal(t, Token2022ProgramID[:], create.Data[20:])

	initMint := InitializeMint(b, 0, a, nil, Token2022ProgramID)
	require.Equal(t, []byte{0, 0}, initMint.Data[:2])
	require.Len(t, initMint.Data, 35)
	require.Equal(t, SysvarRentID, initMint.Accounts[1].PublicKey)

	delegate := InitializePermanentDelegate(b, a)
	require.Equal(t, byte(35), delegate.Data[0])
	require.Equal(t, a[:], delegate.Data[1:])

	transfer := TransferChecked(a, b, c, a, 50, 0, Token2022ProgramID)
	require.Equal(t, byte(12), transfer.Data[0])
	require.Equal(t, uint64(50), binary.LittleEndian.Uint64(transfer.Data[1:]))
	require.True(t, transfer.Accounts[3].IsSigner)
	require.False(t, transfer.Accounts[1].IsWritable)
}

func TestMessageOrdering(t *testing.T) {
	payer := testKeypair(t, 1)
	mint := testKeypair(t, 2)
	msg, err := NewMessage(payer.PublicKey(), []Instruction{
		CreateAccount(payer.PublicKey(), mint.PublicKey(), 10, MintWithPermanentDelegateSize, Token2022ProgramID),
		InitializePermanentDelegate(mint.PublicKey(), payer.PublicKey()),
		InitializeMint(mint.PublicKey(), 0, payer.PublicKey(), nil, Token2022ProgramID),
	}, Hash{})
	require.NoError(t, err)

	require.Equal(t, uint8(2), msg.Header.NumRequiredSignatures)
	require.Equal(t, uint8(0), msg.Header.NumReadonlySignedAccounts)
	require.Equal(t, uint8(3), msg.Header.NumReadonlyUnsignedAccounts)
	require.Equal(t, payer.PublicKey(), msg.AccountKeys[0])
	require.Equal(t, mint.PublicKey(), msg.AccountKeys[1])
	require.Len(t, msg.AccountKeys, 5)
	require.True(t, msg.IsWritable(1))
	require.False(t, msg.IsWritable(4))

	decoded, err := DecodeMessage(msg.Serialize())
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
	require.Equal(t, Token2022ProgramID, decoded.Instruction(2).ProgramID)
}

func TestTransactionSignAndVerify(t *testing.T) {
	payer := testKeypair(t, 1)
	mint := testKeypair(t, 2)
	tx, err := NewTransaction(payer.PublicKey(), Hash{7},
		CreateAccount(payer.PublicKey(), mint.PublicKey(), 10, MintSize, Token2022ProgramID))
	require.NoError(t, err)

	require.ErrorIs(t, tx.Sign(payer), ErrMissingSigner)
	require.NoError(t, tx.Sign(payer, mint))
	require.NoError(t, tx.VerifySignatures())

	raw, err := tx.Serialize()
	require.NoError(t, err)
	decoded, err := DecodeTransaction(raw)
	require.NoError(t, err)
	require.Equal(t, tx.ID(), decoded.ID())
	require.NoError(t, decoded.VerifySignatures())

	decoded.Message.RecentBlockhash[0] ^= 1
	require.ErrorIs(t, decoded.VerifySignatures(), ErrSignatureMismatch)

	_, err = DecodeTransaction(raw[:len(raw)-1])
	require.ErrorIs(t, err, ErrMalformedTransaction)
}

func TestTokenAccountLayout(t *testing.T) {
	mint, owner := testKeypair(t, 1).PublicKey(), testKeypair(t, 2).PublicKey()
	data := EncodeTokenAccount(TokenAccount{Mint: mint, Owner: owner, Amount: 42, State: AccountStateInitialized, ImmutableOwner: true})
	require.Len(t, data, TokenAccountWithImmutableOwnerSize)

	amount, err := ParseTokenAmount(data)
	require.NoError(t, err)
	require.Equal(t, uint64(42), amount)

	acct, err := ParseTokenAccount(data)
	require.NoError(t, err)
	require.Equal(t, owner, acct.Owner)
	require.True(t, acct.ImmutableOwner)
	require.Nil(t, acct.Delegate)

	_, err = ParseTokenAmount(data[:71])
	require.ErrorIs(t, err, ErrShortAccountData)
}

func TestParseTokenAmountOffset(t *testing.T) {
	data := make([]byte, 72)
	binary.LittleEndian.PutUint64(data[64:], 0x0102030405060708)
	amount, err := ParseTokenAmount(data)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), amount)
}

func TestMintLayout(t *testing.T) {
	authority := testKeypair(t, 1).PublicKey()
	data, err := EncodeMint(Mint{
		MintAuthority:     &authority,
		Supply:            100,
		IsInitialized:     true,
		PermanentDelegate: &authority,
	}, MintWithPermanentDelegateSize)
	require.NoError(t, err)
	require.Len(t, data, 202)

	m, err := ParseMint(data)
	require.NoError(t, err)
	require.Equal(t, uint64(100), m.Supply)
	require.Equal(t, uint8(0), m.Decimals)
	require.Nil(t, m.FreezeAuthority)
	require.NotNil(t, m.PermanentDelegate)
	require.Equal(t, authority, *m.PermanentDelegate)

	_, err = EncodeMint(Mint{}, 100)
	require.ErrorIs(t, err, ErrShortAccountData)
}
