package vrf

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Proof is the verifiable output for one seed. The signature is a
// deterministic secp256k1 signature over keccak256(seed); the output is the
// hash of the signature.
type Proof struct {
	Seed      common.Hash `json:"seed"`
	Signature []byte      `json:"signature"`
	Output    common.Hash `json:"output"`
}

// Words expands the proof output into n random words.
func (p Proof) Words(n uint32) []*uint256.Int {
	words := make([]*uint256.Int, n)
	buf := make([]byte, common.HashLength+4)
	copy(buf, p.Output[:])
	for i := uint32(0); i < n; i++ {
		binary.BigEndian.PutUint32(buf[common.HashLength:], i)
		words[i] = new(uint256.Int).SetBytes(crypto.Keccak256(buf))
	}
	return words
}

// Prover signs seeds with the oracle key.
type Prover struct {
	key *ecdsa.PrivateKey
}

// NewProver loads a hex encoded secp256k1 key. An empty key generates an
// ephemeral one.
func NewProver(hexKey string) (*Prover, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate vrf key: %w", err)
		}
		return &Prover{key: key}, nil
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("load vrf key: %w", err)
	}
	return &Prover{key: key}, nil
}

// Address is the oracle identity derived from the public key.
func (p *Prover) Address() common.Address {
	return crypto.PubkeyToAddress(p.key.PublicKey)
}

// Prove produces the proof for seed.
func (p *Prover) Prove(seed common.Hash) (Proof, error) {
	sig, err := crypto.Sign(crypto.Keccak256(seed[:]), p.key)
	if err != nil {
		return Proof{}, fmt.Errorf("sign seed: %w", err)
	}
	return Proof{
		Seed:      seed,
		Signature: sig,
		Output:    crypto.Keccak256Hash(sig),
	}, nil
}

// Verify checks that proof was produced by signer for its seed.
func Verify(signer common.Address, proof Proof) bool {
	if len(proof.Signature) != crypto.SignatureLength {
		return false
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(proof.Seed[:]), proof.Signature)
	if err != nil {
		return false
	}
	if crypto.PubkeyToAddress(*pub) != signer {
		return false
	}
	return crypto.Keccak256Hash(proof.Signature) == proof.Output
}

// preSeed derives the per-request seed from the request parameters.
func preSeed(keyHash common.Hash, sender common.Address, subID, nonce uint64) common.Hash {
	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], subID)
	binary.BigEndian.PutUint64(tail[8:], nonce)
	return crypto.Keccak256Hash(keyHash[:], sender[:], tail[:])
}
