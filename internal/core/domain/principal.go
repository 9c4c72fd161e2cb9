package domain

import "strings"

// c32 alphabet used by ledger addresses (no I, L, O, U).
const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ValidPrincipal reports whether s is a well-formed ledger principal:
// a c32-encoded standard address (S-prefixed), optionally followed by
// ".contract-name" for contract principals.
func ValidPrincipal(s string) bool {
	addr := s
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		addr = s[:dot]
		if !validContractName(s[dot+1:]) {
			return false
		}
	}
	if len(addr) < 28 || len(addr) > 41 {
		return false
	}
	if addr[0] != 'S' {
		return false
	}
	for i := 1; i < len(addr); i++ {
		if !strings.ContainsRune(c32Alphabet, rune(addr[i])) {
			return false
		}
	}
	return true
}

func validContractName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	for _, c := range name {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return false
		}
	}
	return true
}
