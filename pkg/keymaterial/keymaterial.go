// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package keymaterial

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"k8s.io/client-go/util/keyutil"
)

// Family is the inferred key algorithm family.
type Family string

const (
	FamilyRSA     Family = "RSA"
	FamilyEC      Family = "EC"
	FamilyUnknown Family = "UNKNOWN"
)

// Encoding is the container format the key arrived in.
type Encoding string

const (
	EncodingPKCS1   Encoding = "PKCS1"
	EncodingSEC1    Encoding = "SEC1"
	EncodingPKCS8   Encoding = "PKCS8"
	EncodingUnknown Encoding = "UNKNOWN"
)

// PEM block types.
const (
	BlockRSAPrivateKey = "RSA PRIVATE KEY"
	BlockECPrivateKey  = "EC PRIVATE KEY"
	BlockPrivateKey    = "PRIVATE KEY"
	blockECParameters  = "EC PARAMETERS"
)

var (
	oidRSA = asn1.ObjectIdentifier{1, 2, 840, 113549}
	oidEC  = asn1.ObjectIdentifier{1, 2, 840, 10045}
)

// Material is a private key derived from stored credential bytes. It is
// built fresh for every descriptor and never persisted.
type Material struct {
	// Raw holds the decoded input bytes (PEM text or DER).
	Raw      []byte
	Family   Family
	Encoding Encoding
	// PEM is the canonical PKCS#8 PEM block, or Raw when conversion was not possible.
	PEM []byte
	// Converted is true when PEM was re-encoded from PKCS#1 or SEC1.
	Converted bool
}

// Canonical reports whether PEM holds a PKCS#8 "PRIVATE KEY" block.
func (m Material) Canonical() bool {
	return m.Encoding == EncodingPKCS8 || m.Converted
}

// Materializer turns operator-supplied private keys into PKCS#8 PEM.
type Materializer struct {
	log *zap.SugaredLogger
}

func NewMaterializer(log *zap.SugaredLogger) *Materializer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Materializer{log: log.Named("keymaterial")}
}

// Materialize decodes a base64 private key, detects its family and encoding
// and re-encodes it as PKCS#8 PEM. It never fails: anything it cannot decode
// or convert is passed through unchanged with a warning so that callers can
// still hand the original bytes to downstream consumers.
func (m *Materializer) Materialize(encoded string) Material {
	raw, err := decode(encoded)
	if err != nil {
		m.log.Warnw("Private key is not valid base64, passing through unchanged", "error", err)
		raw = []byte(encoded)
		return Material{Raw: raw, Family: FamilyUnknown, Encoding: EncodingUnknown, PEM: raw}
	}

	der, family, encoding := Detect(raw)
	mat := Material{Raw: raw, Family: family, Encoding: encoding, PEM: raw}

	switch encoding {
	case EncodingPKCS8:
		if !isPEM(raw) {
			mat.PEM = pem.EncodeToMemory(&pem.Block{Type: BlockPrivateKey, Bytes: der})
		}
		return mat
	case EncodingPKCS1, EncodingSEC1:
		out, err := toPKCS8(der, encoding)
		if err != nil {
			m.log.Warnw("Failed to convert private key to PKCS#8, passing through unchanged",
				"family", family, "encoding", encoding, "error", err)
			return mat
		}
		mat.PEM = out
		mat.Converted = true
		m.log.Debugw("Converted private key to PKCS#8", "family", family, "encoding", encoding)
		return mat
	default:
		m.log.Warnw("Unrecognized private key format, passing through unchanged", "family", family)
		return mat
	}
}

// Detect inspects PEM headers, or for PKCS#8 content the algorithm OID, and
// returns the DER payload with the inferred family and encoding. Bare DER is
// probed against each parser in turn.
func Detect(data []byte) ([]byte, Family, Encoding) {
	if isPEM(data) {
		rest := data
		for {
			block, next := pem.Decode(rest)
			if block == nil {
				return nil, FamilyUnknown, EncodingUnknown
			}
			rest = next
			switch block.Type {
			case blockECParameters:
				continue
			case BlockRSAPrivateKey:
				return block.Bytes, FamilyRSA, EncodingPKCS1
			case BlockECPrivateKey:
				return block.Bytes, FamilyEC, EncodingSEC1
			case BlockPrivateKey:
				return block.Bytes, familyFromPKCS8(block.Bytes), EncodingPKCS8
			default:
				return block.Bytes, FamilyUnknown, EncodingUnknown
			}
		}
	}

	if family := familyFromPKCS8(data); family != FamilyUnknown {
		return data, family, EncodingPKCS8
	}
	if _, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return data, FamilyRSA, EncodingPKCS1
	}
	if _, err := x509.ParseECPrivateKey(data); err == nil {
		return data, FamilyEC, EncodingSEC1
	}
	return data, FamilyUnknown, EncodingUnknown
}

type pkcs8Envelope struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
}

func familyFromPKCS8(der []byte) Family {
	var env pkcs8Envelope
	if _, err := asn1.Unmarshal(der, &env); err != nil {
		return FamilyUnknown
	}
	switch {
	case hasPrefix(env.Algo.Algorithm, oidRSA):
		return FamilyRSA
	case hasPrefix(env.Algo.Algorithm, oidEC):
		return FamilyEC
	default:
		return FamilyUnknown
	}
}

func hasPrefix(oid, prefix asn1.ObjectIdentifier) bool {
	if len(oid) < len(prefix) {
		return false
	}
	return oid[:len(prefix)].Equal(prefix)
}

func toPKCS8(der []byte, encoding Encoding) ([]byte, error) {
	var blockType string
	switch encoding {
	case EncodingPKCS1:
		blockType = BlockRSAPrivateKey
	case EncodingSEC1:
		blockType = BlockECPrivateKey
	default:
		return nil, fmt.Errorf("unsupported source encoding %s", encoding)
	}
	key, err := keyutil.ParsePrivateKeyPEM(pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}))
	if err != nil {
		return nil, fmt.Errorf("parse %s key: %w", encoding, err)
	}
	out, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal PKCS#8: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: BlockPrivateKey, Bytes: out}), nil
}

// decode accepts standard or unpadded base64, and PEM text stored without
// an extra base64 layer.
func decode(encoded string) ([]byte, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, errors.New("empty key")
	}
	if strings.HasPrefix(trimmed, "-----BEGIN") {
		return []byte(trimmed), nil
	}
	compact := strings.Join(strings.Fields(trimmed), "")
	if out, err := base64.StdEncoding.DecodeString(compact); err == nil {
		return out, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "="))
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN"))
}
