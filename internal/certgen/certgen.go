// Package certgen issues the ephemeral self-signed certificate the Cast V2
// listener terminates TLS with. Senders do not validate the chain, so a
// minimal syntactically-valid certificate is enough and nothing ever
// touches disk. The v3 certificate is emitted as hand-built DER to keep the
// output byte-stable across Go releases.
package certgen

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
)

const (
	commonName = "CastV2"
	notBefore  = "250101000000Z"
	notAfter   = "350101000000Z"
)

// DER universal tags used below.
const (
	tagInteger    = 0x02
	tagBitString  = 0x03
	tagNull       = 0x05
	tagOID        = 0x06
	tagUTF8String = 0x0C
	tagUTCTime    = 0x17
	tagSequence   = 0x30
	tagSet        = 0x31
	tagContext0   = 0xA0
)

// sha256WithRSAEncryption, 1.2.840.113549.1.1.11.
var oidSHA256WithRSA = []byte{0x2A, 0x86, 0x48, 0x86, 0xF7, 0x0D, 0x01, 0x01, 0x0B}

// id-at-commonName, 2.5.4.3.
var oidCommonName = []byte{0x55, 0x04, 0x03}

// Issuer generates and caches one (private key, certificate) PEM pair.
// The zero value is ready to use; Material is safe for concurrent callers.
type Issuer struct {
	once    sync.Once
	keyPEM  []byte
	certPEM []byte
	err     error
}

// Material returns the cached PEM pair, generating it on first call.
func (i *Issuer) Material() (keyPEM, certPEM []byte, err error) {
	i.once.Do(func() {
		i.keyPEM, i.certPEM, i.err = generate()
	})
	return i.keyPEM, i.certPEM, i.err
}

func generate() (keyPEM, certPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("certgen: generate key: %w", err)
	}

	certDER, err := buildCertificate(key)
	if err != nil {
		return nil, nil, err
	}

	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})
	return keyPEM, certPEM, nil
}

// buildCertificate emits the DER v3 certificate: serial 1, CN=CastV2 for
// both issuer and subject, fixed 2025-2035 validity, RSA-SHA256 signature.
func buildCertificate(key *rsa.PrivateKey) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("certgen: marshal spki: %w", err)
	}

	algID, err := derSequence(derPrimitive(tagOID, oidSHA256WithRSA), derPrimitive(tagNull, nil))
	if err != nil {
		return nil, err
	}
	name, err := derName(commonName)
	if err != nil {
		return nil, err
	}
	validity, err := derSequence(
		derPrimitive(tagUTCTime, []byte(notBefore)),
		derPrimitive(tagUTCTime, []byte(notAfter)),
	)
	if err != nil {
		return nil, err
	}
	version, err := derExplicit(tagContext0, derPrimitive(tagInteger, []byte{2}))
	if err != nil {
		return nil, err
	}

	tbs, err := derSequence(
		version,
		derPrimitive(tagInteger, []byte{1}),
		algID,
		name,
		validity,
		name,
		spki,
	)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(tbs)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("certgen: sign tbs: %w", err)
	}

	return derSequence(tbs, algID, derPrimitive(tagBitString, append([]byte{0x00}, sig...)))
}

// derName builds a Name with the single RDN CN=<cn>.
func derName(cn string) ([]byte, error) {
	atv, err := derSequence(
		derPrimitive(tagOID, oidCommonName),
		derPrimitive(tagUTF8String, []byte(cn)),
	)
	if err != nil {
		return nil, err
	}
	rdn, err := derValue(tagSet, atv)
	if err != nil {
		return nil, err
	}
	return derValue(tagSequence, rdn)
}

// derLength encodes a DER length: short form below 128, one length byte
// below 256, two below 65536. Larger contents are rejected.
func derLength(n int) ([]byte, error) {
	switch {
	case n < 0:
		return nil, fmt.Errorf("certgen: negative length %d", n)
	case n < 0x80:
		return []byte{byte(n)}, nil
	case n < 0x100:
		return []byte{0x81, byte(n)}, nil
	case n < 0x10000:
		return []byte{0x82, byte(n >> 8), byte(n)}, nil
	default:
		return nil, fmt.Errorf("certgen: length %d exceeds two-byte encoding", n)
	}
}

// derValue wraps contents in tag + length.
func derValue(tag byte, contents []byte) ([]byte, error) {
	length, err := derLength(len(contents))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(length)+len(contents))
	out = append(out, tag)
	out = append(out, length...)
	return append(out, contents...), nil
}

// derPrimitive is derValue for elements whose contents are already final.
// The error from derValue only fires on oversized contents, which no
// primitive here can reach, so it panics instead of threading an error.
func derPrimitive(tag byte, contents []byte) []byte {
	v, err := derValue(tag, contents)
	if err != nil {
		panic(err)
	}
	return v
}

// derSequence concatenates parts into a SEQUENCE.
func derSequence(parts ...[]byte) ([]byte, error) {
	var contents []byte
	for _, p := range parts {
		contents = append(contents, p...)
	}
	return derValue(tagSequence, contents)
}

// derExplicit wraps a single encoded element in an explicit context tag.
func derExplicit(tag byte, inner []byte) ([]byte, error) {
	return derValue(tag, inner)
}
