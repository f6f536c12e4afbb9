package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RecoverText returns the address that produced an EIP-191 signature over data.
func RecoverText(sigHex string, data []byte) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != gethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[gethcrypto.RecoveryIDOffset] >= 27 {
		sig[gethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := gethcrypto.SigToPub(accounts.TextHash(data), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover failed: %w", err)
	}
	return gethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyText reports whether sigHex is addr's EIP-191 signature over data.
func VerifyText(addr common.Address, sigHex string, data []byte) (bool, error) {
	got, err := RecoverText(sigHex, data)
	if err != nil {
		return false, err
	}
	return got == addr, nil
}
