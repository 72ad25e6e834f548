package loader

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyKnownSoC(t *testing.T) {
	blob := append([]byte("junk-prefix"), append(qcomTag, []byte("SM8550\x00trailer")...)...)
	assert.Equal(t, "SM8550 (Snapdragon 8 Gen 2)", Identify(blob))
}

func TestIdentifyUnknownSoC(t *testing.T) {
	blob := append([]byte{}, append(qcomTag, []byte("SM9999\x00")...)...)
	assert.Equal(t, "SM9999 (Unknown)", Identify(blob))
}

func TestIdentifyNoTagReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", Identify([]byte("nothing interesting here")))
}

func TestIdentifySanitizesNonPrintable(t *testing.T) {
	blob := append([]byte{}, qcomTag...)
	blob = append(blob, []byte{'A', 0x01, 'B', 0x00}...)
	assert.Equal(t, "A.B (Unknown)", Identify(blob))
}

func selfSignedRootCADER(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "qflash-test-root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func TestRootCAHashesFindsSelfSignedCert(t *testing.T) {
	der := selfSignedRootCADER(t)
	blob := append([]byte("leading-noise-bytes-not-a-cert"), der...)
	blob = append(blob, []byte("trailing-noise")...)

	hashes := RootCAHashes(blob)
	require.Len(t, hashes, 1)

	sum := sha512.Sum384(der)
	want := hex.EncodeToString(sum[:])
	_, ok := hashes[want]
	assert.True(t, ok)
}

func TestRootCAHashesIgnoresNonCertData(t *testing.T) {
	hashes := RootCAHashes([]byte{0x30, 0x82, 0x00, 0x10, 0x30, 0x82, 0x01, 0x02, 0x03})
	assert.Empty(t, hashes)
}

func TestRootCAHashesEmptyOnEmptyInput(t *testing.T) {
	assert.Empty(t, RootCAHashes(nil))
}
