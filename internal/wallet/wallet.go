package wallet

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// Kind tells how the wallet was imported. The login challenge type depends on it.
type Kind int

const (
	KindPrivateKey Kind = iota
	KindMnemonic
)

// Challenge types understood by the auth API.
const (
	ChallengeBrowserExtension = "BROWSER_EXTENSION"
	ChallengeRecoveryEOA      = "RECOVERY_EOA"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// Wallet is an EOA signer.
type Wallet struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
	Kind    Kind
}

// FromPrivateKey parses a hex private key with or without 0x.
func FromPrivateKey(pkHex string) (*Wallet, error) {
	h := strings.TrimPrefix(strings.TrimSpace(pkHex), "0x")
	key, err := crypto.HexToECDSA(h)
	if err != nil {
		return nil, fmt.Errorf("bad private key: %w", err)
	}
	return &Wallet{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey), Kind: KindPrivateKey}, nil
}

// FromMnemonic derives the first account m/44'/60'/0'/0/0.
func FromMnemonic(phrase string) (*Wallet, error) {
	phrase = strings.Join(strings.Fields(phrase), " ")
	if !bip39.IsMnemonicValid(phrase) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(phrase, "")
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild + 0,
		0,
		0,
	}
	k := master
	for _, idx := range path {
		if k, err = k.NewChildKey(idx); err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
	}
	key, err := crypto.ToECDSA(k.Key)
	if err != nil {
		return nil, fmt.Errorf("derived key: %w", err)
	}
	return &Wallet{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey), Kind: KindMnemonic}, nil
}

// Generate creates a fresh random key.
func Generate() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Wallet{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey), Kind: KindPrivateKey}, nil
}

// PrivateKeyHex returns the 0x-prefixed key.
func (w *Wallet) PrivateKeyHex() string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(w.Key))
}

// ChallengeType is the login flavour expected for this wallet.
func (w *Wallet) ChallengeType() string {
	if w.Kind == KindMnemonic {
		return ChallengeRecoveryEOA
	}
	return ChallengeBrowserExtension
}

// SignText signs msg with the EIP-191 personal message prefix.
func (w *Wallet) SignText(msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), w.Key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignHash personal-signs the 32 raw bytes of h.
func (w *Wallet) SignHash(h common.Hash) ([]byte, error) {
	return w.SignText(h.Bytes())
}

// RecoverText returns the signer of an EIP-191 signature produced by SignText.
func RecoverText(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d", len(sig))
	}
	s := common.CopyBytes(sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RandomAddress returns an address built from 20 random bytes.
func RandomAddress() common.Address {
	var b [common.AddressLength]byte
	_, _ = rand.Read(b[:])
	return common.BytesToAddress(b[:])
}
