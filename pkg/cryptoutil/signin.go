package cryptoutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrInvalidSignature indicates the recovered signer does not match.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMessageExpired indicates the message is outside its validity window.
	ErrMessageExpired = errors.New("sign-in message expired")
	// ErrReplayedNonce indicates the nonce was seen before within the TTL.
	ErrReplayedNonce = errors.New("nonce already used")
)

const futureSkew = 2 * time.Minute

// SignInMessage is the parsed form of a wallet sign-in message.
type SignInMessage struct {
	Domain         string
	Address        string
	URI            string
	Version        string
	ChainID        int64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime *time.Time
}

// VerifyOptions constrains which messages are acceptable.
type VerifyOptions struct {
	AllowedDomains  []string
	AllowedChainIDs []int64
	MaxAge          time.Duration
	Now             func() time.Time
}

// ParseSignInMessage parses the plaintext sign-in message format:
//
//	<domain> wants you to sign in with your Ethereum account:
//	<address>
//
//	URI: ...
//	Version: 1
//	Chain ID: 84532
//	Nonce: ...
//	Issued At: <RFC3339>
//	Expiration Time: <RFC3339, optional>
func ParseSignInMessage(message string) (*SignInMessage, error) {
	lines := strings.Split(strings.ReplaceAll(message, "\r\n", "\n"), "\n")
	if len(lines) < 2 || !strings.Contains(lines[0], " wants you to sign in with your Ethereum account:") {
		return nil, fmt.Errorf("malformed sign-in message header")
	}
	msg := &SignInMessage{
		Domain:  strings.TrimSuffix(lines[0], " wants you to sign in with your Ethereum account:"),
		Address: strings.TrimSpace(lines[1]),
	}
	if !common.IsHexAddress(msg.Address) {
		return nil, fmt.Errorf("malformed address %q", msg.Address)
	}

	for _, line := range lines[2:] {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "URI":
			msg.URI = value
		case "Version":
			msg.Version = value
		case "Chain ID":
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed chain id %q", value)
			}
			msg.ChainID = id
		case "Nonce":
			msg.Nonce = value
		case "Issued At":
			ts, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("malformed issued-at %q", value)
			}
			msg.IssuedAt = ts
		case "Expiration Time":
			ts, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("malformed expiration time %q", value)
			}
			msg.ExpirationTime = &ts
		}
	}
	if msg.Nonce == "" || msg.IssuedAt.IsZero() {
		return nil, fmt.Errorf("sign-in message missing nonce or issued-at")
	}
	return msg, nil
}

// VerifySignedMessage validates a sign-in message against its EIP-191
// personal-sign signature and the allow-lists in opts. It returns the nonce;
// the caller must additionally consult a replay cache keyed by that nonce.
func VerifySignedMessage(message, signature, expectedAddress string, opts VerifyOptions) (string, error) {
	msg, err := ParseSignInMessage(message)
	if err != nil {
		return "", err
	}

	now := time.Now()
	if opts.Now != nil {
		now = opts.Now()
	}

	if len(opts.AllowedDomains) > 0 && !containsString(opts.AllowedDomains, msg.Domain) {
		return "", fmt.Errorf("domain %q not allowed", msg.Domain)
	}
	if len(opts.AllowedChainIDs) > 0 && !containsInt64(opts.AllowedChainIDs, msg.ChainID) {
		return "", fmt.Errorf("chain id %d not allowed", msg.ChainID)
	}
	if msg.IssuedAt.After(now.Add(futureSkew)) {
		return "", fmt.Errorf("issued-at is in the future")
	}
	if opts.MaxAge > 0 && now.Sub(msg.IssuedAt) > opts.MaxAge {
		return "", ErrMessageExpired
	}
	if msg.ExpirationTime != nil && now.After(msg.ExpirationTime.Add(futureSkew)) {
		return "", ErrMessageExpired
	}

	recovered, err := recoverPersonalSigner(message, signature)
	if err != nil {
		return "", err
	}
	if recovered != common.HexToAddress(expectedAddress) {
		return "", ErrInvalidSignature
	}
	return msg.Nonce, nil
}

func recoverPersonalSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrInvalidSignature
	}
	// Accept both 0/1 and 27/28 recovery ids.
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}
	digest := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignPersonal produces an EIP-191 personal-sign signature with a hex private
// key. Used by agents when submitting proofs and by tests.
func SignPersonal(message, privateKeyHex string) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", err
	}
	digest := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt64(list []int64, v int64) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// NonceCache is an in-memory replay guard for sign-in nonces. Entries expire
// after the TTL; expired entries are pruned on access. A multi-process
// deployment needs a shared store instead.
type NonceCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	seen  map[string]time.Time
	clock func() time.Time
}

// NewNonceCache creates a replay cache with the given TTL.
func NewNonceCache(ttl time.Duration) *NonceCache {
	return &NonceCache{
		ttl:   ttl,
		seen:  make(map[string]time.Time),
		clock: time.Now,
	}
}

// CheckAndStore records the nonce, returning ErrReplayedNonce when it was
// already used within the TTL.
func (c *NonceCache) CheckAndStore(nonce string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	for n, at := range c.seen {
		if now.Sub(at) > c.ttl {
			delete(c.seen, n)
		}
	}
	if _, ok := c.seen[nonce]; ok {
		return ErrReplayedNonce
	}
	c.seen[nonce] = now
	return nil
}
