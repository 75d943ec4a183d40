// Package subaccount provides address-hygiene helpers for sub-account
// identifiers, grounded on internal/wallet/wallet.go's address derivation
// and validation — reused here for hex/identifier hygiene only, with no
// live chain RPC client (the engine never signs or broadcasts on-chain;
// ledger movement goes through capability.AccountingService).
package subaccount

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveLedgerTag computes a stable, opaque 20-byte identifier tag for a
// sub-account from the destination host it was created to pay: hash the
// input, take the low 20 bytes, hex-encode with EIP-55 mixed-case
// checksumming via common.Address's String(). This tag has no
// cryptographic meaning on its own network — it exists purely so
// operators can correlate a sub-account with the counterparty it was
// opened for.
func DeriveLedgerTag(paymentPointerOrInvoiceURL string) (string, error) {
	host, err := hostOf(paymentPointerOrInvoiceURL)
	if err != nil {
		return "", err
	}
	digest := crypto.Keccak256([]byte(host))
	addr := common.BytesToAddress(digest[len(digest)-20:])
	return addr.Hex(), nil
}

// hostOf extracts the host component from either a payment pointer
// ("$wallet.example/alice") or a plain https URL, normalizing the
// payment-pointer "$" shorthand per the Interledger convention before
// parsing.
func hostOf(raw string) (string, error) {
	trimmed := strings.TrimPrefix(raw, "$")
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("subaccount: invalid payment pointer or invoice url %q", raw)
	}
	return u.Host, nil
}

// Valid reports whether raw parses as a usable payment pointer or invoice
// URL, without resolving it over the network.
func Valid(raw string) bool {
	_, err := hostOf(raw)
	return err == nil
}
