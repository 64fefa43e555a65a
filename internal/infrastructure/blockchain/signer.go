package blockchain

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Role names a signing identity. Each role holds at most one key; the mutex
// serializes its transactions so nonces never collide.
type Role string

const (
	RolePayer     Role = "payer"
	RoleRegistrar Role = "registrar"
	RoleValidator Role = "validator"
)

type roleSigner struct {
	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	address common.Address
}

// SetSigningKey installs the hex-encoded private key for a role. Passing an
// empty key clears the role.
func (c *ChainClient) SetSigningKey(role Role, hexKey string) error {
	c.signersMu.Lock()
	defer c.signersMu.Unlock()

	if hexKey == "" {
		delete(c.signers, role)
		return nil
	}
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return fmt.Errorf("signing key for role %s: %w", role, err)
	}
	c.signers[role] = &roleSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
	return nil
}

// SignerAddress returns the address bound to a role, or false when unset.
func (c *ChainClient) SignerAddress(role Role) (common.Address, bool) {
	c.signersMu.RLock()
	defer c.signersMu.RUnlock()
	s, ok := c.signers[role]
	if !ok {
		return common.Address{}, false
	}
	return s.address, true
}

func (c *ChainClient) signerFor(role Role) (*roleSigner, error) {
	c.signersMu.RLock()
	defer c.signersMu.RUnlock()
	s, ok := c.signers[role]
	if !ok {
		return nil, fmt.Errorf("no signing key configured for role %s", role)
	}
	return s, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
