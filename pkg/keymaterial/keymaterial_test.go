package keymaterial

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"k8s.io/client-go/util/keyutil"
)

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func ecKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func pkcs8PEM(t *testing.T, key any) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: BlockPrivateKey, Bytes: der})
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func TestMaterializeSupportedEncodings(t *testing.T) {
	rk := rsaKey(t)
	ek := ecKey(t)

	pkcs1, err := keyutil.MarshalPrivateKeyToPEM(rk)
	require.NoError(t, err)
	sec1, err := keyutil.MarshalPrivateKeyToPEM(ek)
	require.NoError(t, err)
	rsaDER := x509.MarshalPKCS1PrivateKey(rk)

	tests := []struct {
		name      string
		input     []byte
		family    Family
		encoding  Encoding
		converted bool
	}{
		{"rsa pkcs1 pem", pkcs1, FamilyRSA, EncodingPKCS1, true},
		{"ec sec1 pem", sec1, FamilyEC, EncodingSEC1, true},
		{"rsa pkcs8 pem", pkcs8PEM(t, rk), FamilyRSA, EncodingPKCS8, false},
		{"ec pkcs8 pem", pkcs8PEM(t, ek), FamilyEC, EncodingPKCS8, false},
		{"rsa pkcs1 bare der", rsaDER, FamilyRSA, EncodingPKCS1, true},
	}

	m := NewMaterializer(zap.NewNop().Sugar())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mat := m.Materialize(b64(tt.input))

			assert.Equal(t, tt.family, mat.Family)
			assert.Equal(t, tt.encoding, mat.Encoding)
			assert.Equal(t, tt.converted, mat.Converted)
			assert.True(t, mat.Canonical())

			block, _ := pem.Decode(mat.PEM)
			require.NotNil(t, block, "output must be PEM")
			assert.Equal(t, BlockPrivateKey, block.Type)

			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			require.NoError(t, err)
			switch tt.family {
			case FamilyRSA:
				assert.IsType(t, &rsa.PrivateKey{}, parsed)
			case FamilyEC:
				assert.IsType(t, &ecdsa.PrivateKey{}, parsed)
			}

			// keyutil is what client-go uses when loading key data
			_, err = keyutil.ParsePrivateKeyPEM(mat.PEM)
			require.NoError(t, err)
		})
	}
}

func TestMaterializeECWithParametersBlock(t *testing.T) {
	// openssl ecparam -genkey emits an EC PARAMETERS block before the key
	sec1, err := keyutil.MakeEllipticPrivateKeyPEM()
	require.NoError(t, err)
	params := pem.EncodeToMemory(&pem.Block{Type: blockECParameters, Bytes: []byte{0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x03, 0x01, 0x07}})
	input := append(params, sec1...)

	mat := NewMaterializer(nil).Materialize(b64(input))
	assert.Equal(t, FamilyEC, mat.Family)
	assert.Equal(t, EncodingSEC1, mat.Encoding)
	assert.True(t, mat.Converted)
}

func TestMaterializeAcceptsUnencodedPEM(t *testing.T) {
	pkcs1, err := keyutil.MarshalPrivateKeyToPEM(rsaKey(t))
	require.NoError(t, err)

	mat := NewMaterializer(nil).Materialize(string(pkcs1))
	assert.Equal(t, FamilyRSA, mat.Family)
	assert.True(t, mat.Converted)
}

func TestMaterializePKCS8PassesThroughUnchanged(t *testing.T) {
	in := pkcs8PEM(t, ecKey(t))
	mat := NewMaterializer(nil).Materialize(b64(in))
	assert.Equal(t, in, mat.PEM)
	assert.False(t, mat.Converted)
}

func TestMaterializeFallbacks(t *testing.T) {
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	edPEM := pkcs8PEM(t, edKey)
	garbage := pem.EncodeToMemory(&pem.Block{Type: BlockRSAPrivateKey, Bytes: []byte("not a key")})

	tests := []struct {
		name     string
		input    string
		family   Family
		encoding Encoding
		warn     string
		wantPEM  []byte
	}{
		{
			name:     "not base64",
			input:    "%%%not-base64%%%",
			family:   FamilyUnknown,
			encoding: EncodingUnknown,
			warn:     "Private key is not valid base64, passing through unchanged",
			wantPEM:  []byte("%%%not-base64%%%"),
		},
		{
			name:     "pkcs8 with unknown algorithm",
			input:    b64(edPEM),
			family:   FamilyUnknown,
			encoding: EncodingPKCS8,
			wantPEM:  edPEM,
		},
		{
			name:     "corrupt pkcs1 body",
			input:    b64(garbage),
			family:   FamilyRSA,
			encoding: EncodingPKCS1,
			warn:     "Failed to convert private key to PKCS#8, passing through unchanged",
			wantPEM:  garbage,
		},
		{
			name:     "random bytes",
			input:    b64([]byte{0x01, 0x02, 0x03}),
			family:   FamilyUnknown,
			encoding: EncodingUnknown,
			warn:     "Unrecognized private key format, passing through unchanged",
			wantPEM:  []byte{0x01, 0x02, 0x03},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			mat := NewMaterializer(zap.New(core).Sugar()).Materialize(tt.input)

			assert.Equal(t, tt.family, mat.Family)
			assert.Equal(t, tt.encoding, mat.Encoding)
			assert.Equal(t, tt.wantPEM, mat.PEM)
			assert.False(t, mat.Converted)
			if tt.warn != "" {
				require.Equal(t, 1, logs.FilterMessage(tt.warn).Len())
			} else {
				assert.Zero(t, logs.Len())
			}
		})
	}
}

func TestDetectBareDER(t *testing.T) {
	ek := ecKey(t)
	sec1, err := x509.MarshalECPrivateKey(ek)
	require.NoError(t, err)
	p8, err := x509.MarshalPKCS8PrivateKey(ek)
	require.NoError(t, err)

	_, family, encoding := Detect(sec1)
	assert.Equal(t, FamilyEC, family)
	assert.Equal(t, EncodingSEC1, encoding)

	_, family, encoding = Detect(p8)
	assert.Equal(t, FamilyEC, family)
	assert.Equal(t, EncodingPKCS8, encoding)
}
