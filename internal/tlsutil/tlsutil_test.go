package tlsutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildReturnsNilWhenDisabled(t *testing.T) {
	cfg, err := Build(Options{EnableTLS: false})
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestBuildFailsOnMissingCertificate(t *testing.T) {
	_, err := Build(Options{EnableTLS: true, CertificateFile: "/nonexistent.crt", PrivateKeyFile: "/nonexistent.key"})
	require.Error(t, err)
}
