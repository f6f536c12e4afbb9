package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// HolderKeySize is the size of holder public and private keys.
const HolderKeySize = 32

var ErrSealedOpen = errors.New("crypto: cannot open sealed payload")

// GenerateHolderKey creates the ephemeral keypair a decryption capability is
// bound to. Plaintexts released under the capability are sealed to the
// public half.
func GenerateHolderKey() (pub, priv []byte, err error) {
	p, s, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("holder key generation failed: %w", err)
	}
	return p[:], s[:], nil
}

// SealToHolder encrypts msg so that only the holder of pub can read it.
func SealToHolder(pub, msg []byte) ([]byte, error) {
	pk, err := holderKey(pub)
	if err != nil {
		return nil, err
	}
	out, err := box.SealAnonymous(nil, msg, pk, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal failed: %w", err)
	}
	return out, nil
}

// OpenAsHolder decrypts a payload produced by SealToHolder.
func OpenAsHolder(pub, priv, sealed []byte) ([]byte, error) {
	pk, err := holderKey(pub)
	if err != nil {
		return nil, err
	}
	sk, err := holderKey(priv)
	if err != nil {
		return nil, err
	}
	out, ok := box.OpenAnonymous(nil, sealed, pk, sk)
	if !ok {
		return nil, ErrSealedOpen
	}
	return out, nil
}

func holderKey(b []byte) (*[HolderKeySize]byte, error) {
	if len(b) != HolderKeySize {
		return nil, fmt.Errorf("invalid holder key size %d", len(b))
	}
	var k [HolderKeySize]byte
	copy(k[:], b)
	return &k, nil
}
