package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSigner is returned when a required signer was not supplied.
	ErrMissingSigner = errors.New("missing signer")
	// ErrSignatureMismatch is returned when a signature does not verify.
	ErrSignatureMismatch = errors.New("signature verification failed")
)

// Transaction is a message with one signature per required signer.
type Transaction struct {
	Signatures []Signature
	Message    Message
}

// NewTransaction compiles instructions into an unsigned transaction.
func NewTransaction(payer PublicKey, blockhash Hash, instructions ...Instruction) (*Transaction, error) {
	msg, err := NewMessage(payer, instructions, blockhash)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signatures: make([]Signature, msg.Header.NumRequiredSignatures),
		Message:    msg,
	}, nil
}

// Sign fills the signature slot of every required signer from keypairs. Extra keypairs
// are ignored.
func (tx *Transaction) Sign(keypairs ...Keypair) error {
	payload := tx.Message.Serialize()
	byKey := make(map[PublicKey]Keypair, len(keypairs))
	for _, kp := range keypairs {
		byKey[kp.PublicKey()] = kp
	}
	for i, pk := range tx.Message.Signers() {
		kp, ok := byKey[pk]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSigner, pk)
		}
		tx.Signatures[i] = kp.Sign(payload)
	}
	return nil
}

// ID returns the fee payer's signature, which identifies the transaction.
func (tx *Transaction) ID() Signature {
	if len(tx.Signatures) == 0 {
		return Signature{}
	}
	return tx.Signatures[0]
}

// Serialize encodes the signed transaction for submission.
func (tx *Transaction) Serialize() ([]byte, error) {
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		return nil, fmt.Errorf("serialize transaction: have %d signatures, need %d", len(tx.Signatures), tx.Message.Header.NumRequiredSignatures)
	}
	msg := tx.Message.Serialize()
	b := make([]byte, 0, 1+len(tx.Signatures)*SignatureSize+len(msg))
	b = appendShortVec(b, len(tx.Signatures))
	for _, s := range tx.Signatures {
		b = append(b, s[:]...)
	}
	return append(b, msg...), nil
}

// DecodeTransaction parses wire bytes.
func DecodeTransaction(b []byte) (*Transaction, error) {
	n, size, err := readShortVec(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	b = b[size:]
	if len(b) < n*SignatureSize {
		return nil, fmt.Errorf("%w: truncated signatures", ErrMalformedTransaction)
	}
	tx := &Transaction{Signatures: make([]Signature, n)}
	for i := range tx.Signatures {
		copy(tx.Signatures[i][:], b[i*SignatureSize:])
	}
	msg, err := DecodeMessage(b[n*SignatureSize:])
	if err != nil {
		return nil, err
	}
	if int(msg.Header.NumRequiredSignatures) != n {
		return nil, fmt.Errorf("%w: signature count does not match header", ErrMalformedTransaction)
	}
	tx.Message = msg
	return tx, nil
}

// VerifySignatures checks every required signature against the message bytes.
func (tx *Transaction) VerifySignatures() error {
	payload := tx.Message.Serialize()
	signers := tx.Message.Signers()
	if len(signers) != len(tx.Signatures) {
		return fmt.Errorf("%w: signature count mismatch", ErrSignatureMismatch)
	}
	for i, pk := range signers {
		if !VerifySignature(pk, payload, tx.Signatures[i]) {
			return fmt.Errorf("%w: %s", ErrSignatureMismatch, pk)
		}
	}
	return nil
}
