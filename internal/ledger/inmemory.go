package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/loyalpass/loyalpass/internal/chain"
)

const (
	// LamportsPerSignature is the flat fee the in-memory network charges.
	LamportsPerSignature = 5000
	// LamportsPerSOL converts native balances for display.
	LamportsPerSOL = 1_000_000_000

	blockhashValidity       = 150
	rentBytesOverhead       = 128
	rentLamportsPerByteYear = 3480
	rentExemptionYears      = 2
)

var errInstruction = errors.New("instruction failed")

type account struct {
	Lamports uint64
	Program  chain.PublicKey
	Data     []byte
}

type txStatus struct {
	slot uint64
	err  error
}

// InMemoryNetwork executes the system, Token-2022 and associated token instructions the
// engine emits, with signature and blockhash checks. It is meant for tests and local
// development.
type InMemoryNetwork struct {
	mu          sync.Mutex
	accounts    map[chain.PublicKey]account
	blockhashes map[chain.Hash]uint64
	statuses    map[chain.Signature]txStatus
	history     map[chain.PublicKey][]SignatureInfo
	slot        uint64
	height      uint64
	counter     uint64
	failSend    error
	failConfirm error
}

// NewInMemoryNetwork returns an empty network at block height zero.
func NewInMemoryNetwork() *InMemoryNetwork {
	return &InMemoryNetwork{
		accounts:    make(map[chain.PublicKey]account),
		blockhashes: make(map[chain.Hash]uint64),
		statuses:    make(map[chain.Signature]txStatus),
		history:     make(map[chain.PublicKey][]SignatureInfo),
	}
}

// Fund credits lamports to a system account.
func (n *InMemoryNetwork) Fund(address chain.PublicKey, lamports uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acct := n.accounts[address]
	acct.Lamports += lamports
	n.accounts[address] = acct
}

// FailNextSend makes the next SendTransaction return err. A rejection is returned
// without executing; any other error is returned after the transaction lands.
func (n *InMemoryNetwork) FailNextSend(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failSend = err
}

// FailNextConfirm makes the next ConfirmTransaction return err.
func (n *InMemoryNetwork) FailNextConfirm(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failConfirm = err
}

// AdvanceBlocks moves the block height forward, expiring old blockhashes.
func (n *InMemoryNetwork) AdvanceBlocks(blocks uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.height += blocks
	n.slot += blocks
}

// AccountData returns a copy of an account's data, or nil.
func (n *InMemoryNetwork) AccountData(address chain.PublicKey) []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	acct, ok := n.accounts[address]
	if !ok {
		return nil
	}
	return append([]byte(nil), acct.Data...)
}

func (n *InMemoryNetwork) LatestBlockhash(_ context.Context) (Blockhash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.counter++
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], n.counter)
	h := chain.Hash(sha256.Sum256(append([]byte("blockhash"), seed[:]...)))
	last := n.height + blockhashValidity
	n.blockhashes[h] = last
	return Blockhash{Hash: h, LastValidBlockHeight: last}, nil
}

func (n *InMemoryNetwork) MinimumBalanceForRentExemption(_ context.Context, size uint64) (uint64, error) {
	return rentExempt(size), nil
}

func rentExempt(size uint64) uint64 {
	return (rentBytesOverhead + size) * rentLamportsPerByteYear * rentExemptionYears
}

func (n *InMemoryNetwork) SendTransaction(_ context.Context, raw []byte) (chain.Signature, error) {
	tx, err := chain.DecodeTransaction(raw)
	if err != nil {
		return chain.Signature{}, fmt.Errorf("%w: %v", ErrTransactionRejected, err)
	}
	sig := tx.ID()

	n.mu.Lock()
	defer n.mu.Unlock()

	injected := n.failSend
	n.failSend = nil
	if injected != nil && errors.Is(injected, ErrTransactionRejected) {
		return chain.Signature{}, injected
	}

	if err := tx.VerifySignatures(); err != nil {
		return chain.Signature{}, fmt.Errorf("%w: %v", ErrTransactionRejected, err)
	}
	last, ok := n.blockhashes[tx.Message.RecentBlockhash]
	if !ok || n.height > last {
		return chain.Signature{}, fmt.Errorf("%w: blockhash not found", ErrTransactionRejected)
	}
	if _, seen := n.statuses[sig]; seen {
		return chain.Signature{}, fmt.Errorf("%w: already processed", ErrTransactionRejected)
	}

	state := maps.Clone(n.accounts)
	if err := execute(state, tx); err != nil {
		return chain.Signature{}, fmt.Errorf("%w: simulation failed: %v", ErrTransactionRejected, err)
	}
	n.accounts = state
	n.slot++
	n.height++
	n.statuses[sig] = txStatus{slot: n.slot}
	for _, key := range tx.Message.AccountKeys {
		n.history[key] = append(n.history[key], SignatureInfo{Signature: sig.String(), Slot: n.slot})
	}

	if injected != nil {
		return chain.Signature{}, injected
	}
	return sig, nil
}

func (n *InMemoryNetwork) ConfirmTransaction(ctx context.Context, sig chain.Signature, lastValidBlockHeight uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.failConfirm; err != nil {
		n.failConfirm = nil
		return err
	}
	status, ok := n.statuses[sig]
	if !ok {
		return fmt.Errorf("%w: %s not found by height %d", ErrBlockhashExpired, sig, lastValidBlockHeight)
	}
	if status.err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, status.err)
	}
	return nil
}

func (n *InMemoryNetwork) TokenAccountsByOwner(_ context.Context, owner, mint chain.PublicKey) ([]TokenAccountRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []TokenAccountRecord
	for addr, acct := range n.accounts {
		if acct.Program != chain.Token2022ProgramID || len(acct.Data) < chain.TokenAccountSize {
			continue
		}
		ta, err := chain.ParseTokenAccount(acct.Data)
		if err != nil {
			continue
		}
		if ta.Owner == owner && ta.Mint == mint {
			out = append(out, TokenAccountRecord{Address: addr, Data: append([]byte(nil), acct.Data...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.String() < out[j].Address.String() })
	return out, nil
}

func (n *InMemoryNetwork) Balance(_ context.Context, address chain.PublicKey) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.accounts[address].Lamports, nil
}

func (n *InMemoryNetwork) SignaturesForAddress(_ context.Context, address chain.PublicKey, limit int) ([]SignatureInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	entries := n.history[address]
	out := make([]SignatureInfo, 0, min(len(entries), limit))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (n *InMemoryNetwork) RequestAirdrop(_ context.Context, address chain.PublicKey, lamports uint64) (chain.Signature, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.counter++
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], n.counter)
	first := sha256.Sum256(append([]byte("airdrop"), seed[:]...))
	second := sha256.Sum256(first[:])
	var sig chain.Signature
	copy(sig[:32], first[:])
	copy(sig[32:], second[:])

	acct := n.accounts[address]
	acct.Lamports += lamports
	n.accounts[address] = acct
	n.slot++
	n.height++
	n.statuses[sig] = txStatus{slot: n.slot}
	n.history[address] = append(n.history[address], SignatureInfo{Signature: sig.String(), Slot: n.slot})
	return sig, nil
}

func execute(state map[chain.PublicKey]account, tx *chain.Transaction) error {
	msg := tx.Message
	fee := uint64(len(tx.Signatures)) * LamportsPerSignature
	payer := msg.AccountKeys[0]
	acct := state[payer]
	if acct.Lamports < fee {
		return fmt.Errorf("fee payer %s cannot cover fee of %d lamports", payer.Short(), fee)
	}
	acct.Lamports -= fee
	state[payer] = acct

	for i := range msg.Instructions {
		ix := msg.Instruction(i)
		var err error
		switch ix.ProgramID {
		case chain.SystemProgramID:
			err = executeSystem(state, ix)
		case chain.Token2022ProgramID:
			err = executeToken(state, ix)
		case chain.AssociatedTokenProgramID:
			err = executeAssociatedToken(state, ix)
		default:
			err = fmt.Errorf("unsupported program %s", ix.ProgramID)
		}
		if err != nil {
			return fmt.Errorf("%w: instruction %d: %v", errInstruction, i, err)
		}
	}
	return nil
}

func requireAccounts(ix chain.Instruction, n int) error {
	if len(ix.Accounts) < n {
		return fmt.Errorf("expected %d accounts, got %d", n, len(ix.Accounts))
	}
	return nil
}

func executeSystem(state map[chain.PublicKey]account, ix chain.Instruction) error {
	if len(ix.Data) < 4 {
		return errors.New("system instruction too short")
	}
	switch binary.LittleEndian.Uint32(ix.Data) {
	case chain.SystemCreateAccount:
		if len(ix.Data) != 52 {
			return errors.New("malformed create account")
		}
		if err := requireAccounts(ix, 2); err != nil {
			return err
		}
		from, target := ix.Accounts[0], ix.Accounts[1]
		if !from.IsSigner || !target.IsSigner {
			return errors.New("create account requires funder and new account signatures")
		}
		lamports := binary.LittleEndian.Uint64(ix.Data[4:])
		space := binary.LittleEndian.Uint64(ix.Data[12:])
		var owner chain.PublicKey
		copy(owner[:], ix.Data[20:52])

		if existing, ok := state[target.PublicKey]; ok && (existing.Lamports > 0 || len(existing.Data) > 0) {
			return fmt.Errorf("account %s already in use", target.PublicKey.Short())
		}
		if lamports < rentExempt(space) {
			return errors.New("insufficient lamports for rent exemption")
		}
		if err := debit(state, from.PublicKey, lamports); err != nil {
			return err
		}
		state[target.PublicKey] = account{Lamports: lamports, Program: owner, Data: make([]byte, space)}
		return nil
	case chain.SystemTransfer:
		if len(ix.Data) != 12 {
			return errors.New("malformed transfer")
		}
		if err := requireAccounts(ix, 2); err != nil {
			return err
		}
		from, to := ix.Accounts[0], ix.Accounts[1]
		if !from.IsSigner {
			return errors.New("transfer source must sign")
		}
		if state[from.PublicKey].Program != chain.SystemProgramID || len(state[from.PublicKey].Data) > 0 {
			return errors.New("transfer source must be a system account")
		}
		lamports := binary.LittleEndian.Uint64(ix.Data[4:])
		if err := debit(state, from.PublicKey, lamports); err != nil {
			return err
		}
		dst := state[to.PublicKey]
		dst.Lamports += lamports
		state[to.PublicKey] = dst
		return nil
	default:
		return errors.New("unsupported system instruction")
	}
}

func debit(state map[chain.PublicKey]account, address chain.PublicKey, lamports uint64) error {
	acct := state[address]
	if acct.Lamports < lamports {
		return fmt.Errorf("insufficient lamports in %s", address.Short())
	}
	acct.Lamports -= lamports
	state[address] = acct
	return nil
}

func executeToken(state map[chain.PublicKey]account, ix chain.Instruction) error {
	if len(ix.Data) == 0 {
		return errors.New("empty token instruction")
	}
	switch ix.Data[0] {
	case chain.TokenInitializePermanentDelegate:
		if len(ix.Data) != 33 {
			return errors.New("malformed initialize permanent delegate")
		}
		if err := requireAccounts(ix, 1); err != nil {
			return err
		}
		mintKey := ix.Accounts[0].PublicKey
		acct := state[mintKey]
		if acct.Program != chain.Token2022ProgramID || len(acct.Data) < chain.MintWithPermanentDelegateSize {
			return errors.New("mint account cannot hold the permanent delegate extension")
		}
		if acct.Data[45] != 0 {
			return errors.New("mint already initialized")
		}
		var delegate chain.PublicKey
		copy(delegate[:], ix.Data[1:])
		data, err := chain.EncodeMint(chain.Mint{PermanentDelegate: &delegate}, len(acct.Data))
		if err != nil {
			return err
		}
		acct.Data = data
		state[mintKey] = acct
		return nil

	case chain.TokenInitializeMint:
		if len(ix.Data) != 35 && len(ix.Data) != 67 {
			return errors.New("malformed initialize mint")
		}
		if err := requireAccounts(ix, 2); err != nil {
			return err
		}
		if ix.Accounts[1].PublicKey != chain.SysvarRentID {
			return errors.New("rent sysvar missing")
		}
		mintKey := ix.Accounts[0].PublicKey
		acct := state[mintKey]
		if acct.Program != chain.Token2022ProgramID {
			return errors.New("mint not owned by token program")
		}
		mint, err := chain.ParseMint(acct.Data)
		if err != nil {
			return err
		}
		if mint.IsInitialized {
			return errors.New("mint already initialized")
		}
		var authority chain.PublicKey
		copy(authority[:], ix.Data[2:34])
		mint.Decimals = ix.Data[1]
		mint.MintAuthority = &authority
		mint.IsInitialized = true
		if ix.Data[34] == 1 {
			if len(ix.Data) != 67 {
				return errors.New("freeze authority truncated")
			}
			var freeze chain.PublicKey
			copy(freeze[:], ix.Data[35:67])
			mint.FreezeAuthority = &freeze
		}
		data, err := chain.EncodeMint(mint, len(acct.Data))
		if err != nil {
			return err
		}
		acct.Data = data
		state[mintKey] = acct
		return nil

	case chain.TokenMintToChecked:
		if len(ix.Data) != 10 {
			return errors.New("malformed mint to")
		}
		if err := requireAccounts(ix, 3); err != nil {
			return err
		}
		amount := binary.LittleEndian.Uint64(ix.Data[1:9])
		decimals := ix.Data[9]
		mintKey, destKey, authority := ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey, ix.Accounts[2]

		mintAcct, mint, err := loadMint(state, mintKey)
		if err != nil {
			return err
		}
		if mint.Decimals != decimals {
			return errors.New("decimals mismatch")
		}
		if mint.MintAuthority == nil || *mint.MintAuthority != authority.PublicKey || !authority.IsSigner {
			return errors.New("mint authority did not sign")
		}
		destAcct, dest, err := loadTokenAccount(state, destKey)
		if err != nil {
			return err
		}
		if dest.Mint != mintKey {
			return errors.New("destination holds a different mint")
		}
		if mint.Supply+amount < mint.Supply {
			return errors.New("supply overflow")
		}
		mint.Supply += amount
		dest.Amount += amount
		if mintAcct.Data, err = chain.EncodeMint(mint, len(mintAcct.Data)); err != nil {
			return err
		}
		destAcct.Data = chain.EncodeTokenAccount(dest)
		state[mintKey] = mintAcct
		state[destKey] = destAcct
		return nil

	case chain.TokenTransferChecked:
		if len(ix.Data) != 10 {
			return errors.New("malformed transfer")
		}
		if err := requireAccounts(ix, 4); err != nil {
			return err
		}
		amount := binary.LittleEndian.Uint64(ix.Data[1:9])
		decimals := ix.Data[9]
		srcKey, mintKey, dstKey, authority := ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey, ix.Accounts[2].PublicKey, ix.Accounts[3]

		_, mint, err := loadMint(state, mintKey)
		if err != nil {
			return err
		}
		if mint.Decimals != decimals {
			return errors.New("decimals mismatch")
		}
		srcAcct, src, err := loadTokenAccount(state, srcKey)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		dstAcct, dst, err := loadTokenAccount(state, dstKey)
		if err != nil {
			return fmt.Errorf("destination: %w", err)
		}
		if src.Mint != mintKey || dst.Mint != mintKey {
			return errors.New("token accounts hold a different mint")
		}
		if src.State == chain.AccountStateFrozen || dst.State == chain.AccountStateFrozen {
			return errors.New("account frozen")
		}
		permanent := mint.PermanentDelegate != nil && *mint.PermanentDelegate == authority.PublicKey
		if !authority.IsSigner || (authority.PublicKey != src.Owner && !permanent) {
			return errors.New("owner or permanent delegate did not sign")
		}
		if src.Amount < amount {
			return errors.New("insufficient funds")
		}
		if srcKey == dstKey {
			return nil
		}
		src.Amount -= amount
		dst.Amount += amount
		srcAcct.Data = chain.EncodeTokenAccount(src)
		dstAcct.Data = chain.EncodeTokenAccount(dst)
		state[srcKey] = srcAcct
		state[dstKey] = dstAcct
		return nil

	default:
		return fmt.Errorf("unsupported token instruction %d", ix.Data[0])
	}
}

func executeAssociatedToken(state map[chain.PublicKey]account, ix chain.Instruction) error {
	if len(ix.Data) != 1 || ix.Data[0] != chain.AssociatedTokenCreateIdempotent {
		return errors.New("unsupported associated token instruction")
	}
	if err := requireAccounts(ix, 6); err != nil {
		return err
	}
	payer, ataKey, owner, mintKey, program := ix.Accounts[0], ix.Accounts[1].PublicKey, ix.Accounts[2].PublicKey, ix.Accounts[3].PublicKey, ix.Accounts[5].PublicKey
	if program != chain.Token2022ProgramID {
		return errors.New("unsupported token program")
	}
	expected, err := chain.FindAssociatedTokenAddress(owner, mintKey, program)
	if err != nil {
		return err
	}
	if expected != ataKey {
		return errors.New("associated address does not match owner and mint")
	}
	if _, _, err := loadMint(state, mintKey); err != nil {
		return err
	}

	if existing, ok := state[ataKey]; ok && len(existing.Data) > 0 {
		ta, err := chain.ParseTokenAccount(existing.Data)
		if err != nil || existing.Program != program || ta.Owner != owner || ta.Mint != mintKey {
			return errors.New("associated address holds an unexpected account")
		}
		return nil
	}
	if !payer.IsSigner {
		return errors.New("payer must sign")
	}
	rent := rentExempt(chain.TokenAccountWithImmutableOwnerSize)
	if err := debit(state, payer.PublicKey, rent); err != nil {
		return err
	}
	state[ataKey] = account{
		Lamports: state[ataKey].Lamports + rent,
		Program:  program,
		Data: chain.EncodeTokenAccount(chain.TokenAccount{
			Mint:           mintKey,
			Owner:          owner,
			State:          chain.AccountStateInitialized,
			ImmutableOwner: true,
		}),
	}
	return nil
}

func loadMint(state map[chain.PublicKey]account, key chain.PublicKey) (account, chain.Mint, error) {
	acct, ok := state[key]
	if !ok || acct.Program != chain.Token2022ProgramID {
		return account{}, chain.Mint{}, fmt.Errorf("mint %s not found", key.Short())
	}
	mint, err := chain.ParseMint(acct.Data)
	if err != nil {
		return account{}, chain.Mint{}, err
	}
	if !mint.IsInitialized {
		return account{}, chain.Mint{}, fmt.Errorf("mint %s not initialized", key.Short())
	}
	return acct, mint, nil
}

func loadTokenAccount(state map[chain.PublicKey]account, key chain.PublicKey) (account, chain.TokenAccount, error) {
	acct, ok := state[key]
	if !ok || acct.Program != chain.Token2022ProgramID {
		return account{}, chain.TokenAccount{}, fmt.Errorf("token account %s not found", key.Short())
	}
	ta, err := chain.ParseTokenAccount(acct.Data)
	if err != nil {
		return account{}, chain.TokenAccount{}, err
	}
	return acct, ta, nil
}
