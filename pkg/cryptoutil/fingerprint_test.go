package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintStableUnderCaseAndWhitespace(t *testing.T) {
	base := RegistrationInput{
		OwnerAddress: "0xAbC0000000000000000000000000000000000001",
		SourceURL:    "https://github.com/acme/vault",
		Branch:       "main",
		ContractPath: "src/Vault.sol",
		ContractName: "Vault",
	}
	want := Fingerprint(base)
	require.NotEmpty(t, want)

	perturbed := RegistrationInput{
		OwnerAddress: "  0xabc0000000000000000000000000000000000001 ",
		SourceURL:    "HTTPS://GITHUB.COM/acme/vault",
		Branch:       " MAIN",
		ContractPath: "SRC/Vault.SOL ",
		ContractName: " vault",
	}
	require.Equal(t, want, Fingerprint(perturbed))
}

func TestFingerprintDiffersPerField(t *testing.T) {
	base := RegistrationInput{
		OwnerAddress: "0xabc0000000000000000000000000000000000001",
		SourceURL:    "https://github.com/acme/vault",
		Branch:       "main",
		ContractPath: "src/Vault.sol",
		ContractName: "Vault",
	}
	want := Fingerprint(base)

	other := base
	other.Branch = "develop"
	require.NotEqual(t, want, Fingerprint(other))
}

func TestFingerprintEmptyWhenFieldMissing(t *testing.T) {
	in := RegistrationInput{
		OwnerAddress: "0xabc0000000000000000000000000000000000001",
		SourceURL:    "https://github.com/acme/vault",
		Branch:       "",
		ContractPath: "src/Vault.sol",
		ContractName: "Vault",
	}
	require.Empty(t, Fingerprint(in))
	require.Empty(t, Fingerprint(RegistrationInput{}))
}
