// Package signers loads the signing identities that fund chunk purchases.
//
// The directory file holds one base58 encoded 64-byte secret key per line.
// Blank lines and lines starting with '#' are ignored. Lines that fail to
// decode, and keys already seen, are skipped with a warning rather than
// aborting the load.
package signers

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/brojonat/launchbundle/service/faults"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Identity is one signing key pair plus where it came from.
type Identity struct {
	Line       int
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey
}

// Load reads a signer directory file.
func Load(path string, logger *slog.Logger) ([]Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signer file: %w", err)
	}
	defer f.Close()

	ids, err := Parse(f, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ids, nil
}

// Parse reads identities from r. It fails with faults.ErrNoUsableSigners
// when nothing usable remains after skipping bad lines.
func Parse(r io.Reader, logger *slog.Logger) ([]Identity, error) {
	var ids []Identity
	seen := make(map[solana.PublicKey]int)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		key, err := ParsePrivateKey(text)
		if err != nil {
			logger.Warn("skipping malformed signer entry",
				"line", line,
				"error", err,
			)
			continue
		}

		pub := key.PublicKey()
		if first, dup := seen[pub]; dup {
			logger.Warn("skipping duplicate signer entry",
				"line", line,
				"first_line", first,
				"address", pub.String(),
			)
			continue
		}
		seen[pub] = line

		ids = append(ids, Identity{Line: line, PrivateKey: key, PublicKey: pub})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read signer entries: %w", err)
	}

	if len(ids) == 0 {
		return nil, faults.ErrNoUsableSigners
	}

	logger.Info("loaded signers", "count", len(ids), "lines", line)
	return ids, nil
}

// ParsePrivateKey decodes one base58 secret key.
func ParsePrivateKey(text string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", faults.ErrMalformedSigner, err)
	}
	return key, nil
}

// Generate creates n fresh identities.
func Generate(n int) ([]Identity, error) {
	ids := make([]Identity, 0, n)
	for i := 0; i < n; i++ {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key %d: %w", i, err)
		}
		ids = append(ids, Identity{Line: i + 1, PrivateKey: key, PublicKey: key.PublicKey()})
	}
	return ids, nil
}

// Write emits identities in the directory file format.
func Write(w io.Writer, ids []Identity) error {
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, base58.Encode(id.PrivateKey)); err != nil {
			return err
		}
	}
	return nil
}

// PublicKeys returns the addresses of ids in order.
func PublicKeys(ids []Identity) solana.PublicKeySlice {
	out := make(solana.PublicKeySlice, len(ids))
	for i, id := range ids {
		out[i] = id.PublicKey
	}
	return out
}
