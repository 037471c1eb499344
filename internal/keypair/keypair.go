// Package keypair provisions issuing and distribution account keys and keeps their
// signing secrets confined to short signing scopes.
package keypair

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	stellarkp "github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/strkey"
)

const seedSize = 32

var (
	// ErrEntropyUnavailable means the secure random source could not supply a seed.
	ErrEntropyUnavailable = errors.New("entropy source unavailable")
	// ErrDiscarded is returned when signing with a keypair whose secret was already wiped.
	ErrDiscarded = errors.New("keypair secret discarded")
)

// Keypair is an account address plus its raw signing seed.
// The seed never appears in String, fmt verbs or slog output.
type Keypair struct {
	address string

	mu   sync.Mutex
	seed []byte
}

// Address returns the public account identifier (G...).
func (k *Keypair) Address() string {
	return k.address
}

// WithSigner materialises the signing key for the duration of fn only.
func (k *Keypair) WithSigner(fn func(full *stellarkp.Full) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.seed == nil {
		return ErrDiscarded
	}

	var raw [seedSize]byte
	copy(raw[:], k.seed)
	defer clear(raw[:])

	full, err := stellarkp.FromRawSeed(raw)
	if err != nil {
		return fmt.Errorf("deriving signing key: %w", err)
	}
	return fn(full)
}

// RevealSeed returns the secret seed (S...) for hand-over to the account owner.
// Callers must not log or persist the result.
func (k *Keypair) RevealSeed() (string, error) {
	var seed string
	err := k.WithSigner(func(full *stellarkp.Full) error {
		seed = full.Seed()
		return nil
	})
	return seed, err
}

// Discard zeroes the seed. Further signing fails with ErrDiscarded.
func (k *Keypair) Discard() {
	k.mu.Lock()
	defer k.mu.Unlock()

	clear(k.seed)
	k.seed = nil
}

// Discarded reports whether the secret has been wiped.
func (k *Keypair) Discarded() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.seed == nil
}

func (k *Keypair) String() string {
	return fmt.Sprintf("Keypair(%s)", k.address)
}

// GoString keeps %#v from dumping the seed.
func (k *Keypair) GoString() string {
	return k.String()
}

// LogValue implements slog.LogValuer.
func (k *Keypair) LogValue() slog.Value {
	return slog.StringValue(k.address)
}

// Provisioner creates keypairs from a cryptographically secure random source.
type Provisioner struct {
	entropy io.Reader
}

// NewProvisioner creates a Provisioner reading from crypto/rand. A custom reader can be
// supplied for tests.
func NewProvisioner(entropy ...io.Reader) *Provisioner {
	r := io.Reader(rand.Reader)
	if len(entropy) > 0 && entropy[0] != nil {
		r = entropy[0]
	}
	return &Provisioner{entropy: r}
}

// Generate creates a new random keypair. It fails only when the entropy source does.
func (p *Provisioner) Generate() (*Keypair, error) {
	seed := make([]byte, seedSize)
	if _, err := io.ReadFull(p.entropy, seed); err != nil {
		clear(seed)
		return nil, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return fromSeed(seed)
}

// FromSecret loads an existing custody key from its S... seed.
func (p *Provisioner) FromSecret(secret string) (*Keypair, error) {
	raw, err := strkey.Decode(strkey.VersionByteSeed, secret)
	if err != nil {
		return nil, fmt.Errorf("decoding secret seed: %w", err)
	}
	defer clear(raw)
	seed := make([]byte, seedSize)
	copy(seed, raw)
	return fromSeed(seed)
}

// fromSeed takes ownership of seed.
func fromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != seedSize {
		clear(seed)
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", seedSize, len(seed))
	}

	var raw [seedSize]byte
	copy(raw[:], seed)
	defer clear(raw[:])

	full, err := stellarkp.FromRawSeed(raw)
	if err != nil {
		clear(seed)
		return nil, fmt.Errorf("deriving keypair: %w", err)
	}
	return &Keypair{address: full.Address(), seed: seed}, nil
}

// DiscardAll wipes every non-nil keypair.
func DiscardAll(kps ...*Keypair) {
	for _, kp := range kps {
		if kp != nil {
			kp.Discard()
		}
	}
}
