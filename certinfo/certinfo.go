// Package certinfo summarizes signer certificates the way
// `keytool -printcert` prints them. It parses, it does not verify.
package certinfo

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"hash"
	"math/big"
	"strings"
	"time"
)

const keytoolTimeLayout = "Mon Jan 02 15:04:05 MST 2006"

// Certificate ...
type Certificate struct {
	Owner        string    `yaml:"owner"`
	Issuer       string    `yaml:"issuer"`
	SerialNumber string    `yaml:"serial_number"`
	NotBefore    time.Time `yaml:"not_before"`
	NotAfter     time.Time `yaml:"not_after"`

	MD5    string `yaml:"md5"`
	SHA1   string `yaml:"sha1"`
	SHA256 string `yaml:"sha256"`

	SignatureAlgorithm string `yaml:"signature_algorithm"`
	PublicKeyAlgorithm string `yaml:"public_key_algorithm"`
}

// keytool (JCA) names of the x509 signature algorithms.
var signatureAlgorithmNames = map[x509.SignatureAlgorithm]string{
	x509.MD2WithRSA:       "MD2withRSA",
	x509.MD5WithRSA:       "MD5withRSA",
	x509.SHA1WithRSA:      "SHA1withRSA",
	x509.SHA256WithRSA:    "SHA256withRSA",
	x509.SHA384WithRSA:    "SHA384withRSA",
	x509.SHA512WithRSA:    "SHA512withRSA",
	x509.DSAWithSHA1:      "SHA1withDSA",
	x509.DSAWithSHA256:    "SHA256withDSA",
	x509.ECDSAWithSHA1:    "SHA1withECDSA",
	x509.ECDSAWithSHA256:  "SHA256withECDSA",
	x509.ECDSAWithSHA384:  "SHA384withECDSA",
	x509.ECDSAWithSHA512:  "SHA512withECDSA",
	x509.SHA256WithRSAPSS: "RSASSA-PSS",
	x509.SHA384WithRSAPSS: "RSASSA-PSS",
	x509.SHA512WithRSAPSS: "RSASSA-PSS",
	x509.PureEd25519:      "Ed25519",
}

// Describe parses a DER encoded X.509 certificate.
func Describe(der []byte) (Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return Certificate{}, fmt.Errorf("failed to parse certificate: %s", err)
	}

	sigAlg, ok := signatureAlgorithmNames[cert.SignatureAlgorithm]
	if !ok {
		sigAlg = cert.SignatureAlgorithm.String()
	}

	return Certificate{
		Owner:              distinguishedName(cert.Subject.String()),
		Issuer:             distinguishedName(cert.Issuer.String()),
		SerialNumber:       serialNumber(cert.SerialNumber),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		MD5:                Fingerprint(md5.New(), der),
		SHA1:               Fingerprint(sha1.New(), der),
		SHA256:             Fingerprint(sha256.New(), der),
		SignatureAlgorithm: sigAlg,
		PublicKeyAlgorithm: cert.PublicKeyAlgorithm.String(),
	}, nil
}

// Fingerprint hashes der with h and formats the sum as colon separated
// upper case hex pairs.
func Fingerprint(h hash.Hash, der []byte) string {
	h.Reset()
	h.Write(der)
	sum := h.Sum(nil)

	pairs := make([]string, len(sum))
	for i, b := range sum {
		pairs[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(pairs, ":")
}

func serialNumber(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.Text(16)
}

// pkix renders "CN=a,O=b", keytool "CN=a, O=b".
func distinguishedName(s string) string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	parts = append(parts, cur.String())
	return strings.Join(parts, ", ")
}

// String prints c in the layout of `keytool -printcert`.
func (c Certificate) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Owner: %s\n", c.Owner)
	fmt.Fprintf(&b, "Issuer: %s\n", c.Issuer)
	fmt.Fprintf(&b, "Serial number: %s\n", c.SerialNumber)
	fmt.Fprintf(&b, "Valid from: %s until: %s\n", c.NotBefore.Format(keytoolTimeLayout), c.NotAfter.Format(keytoolTimeLayout))
	fmt.Fprintf(&b, "Certificate fingerprints:\n")
	fmt.Fprintf(&b, "\t MD5:  %s\n", c.MD5)
	fmt.Fprintf(&b, "\t SHA1: %s\n", c.SHA1)
	fmt.Fprintf(&b, "\t SHA256: %s\n", c.SHA256)
	fmt.Fprintf(&b, "Signature algorithm name: %s\n", c.SignatureAlgorithm)
	fmt.Fprintf(&b, "Subject Public Key Algorithm: %s\n", c.PublicKeyAlgorithm)
	return b.String()
}
