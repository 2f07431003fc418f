package certinfo

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io/ioutil"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/command"
	"github.com/bitrise-io/go-utils/log"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T) []byte {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0x5eed),
		Subject: pkix.Name{
			CommonName:   "Android Debug",
			Organization: []string{"Android"},
			Country:      []string{"US"},
		},
		NotBefore:          time.Date(2021, 3, 1, 10, 0, 0, 0, time.UTC),
		NotAfter:           time.Date(2051, 2, 22, 10, 0, 0, 0, time.UTC),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func findSignatureAlgorithm(printcert string) (string, error) {
	exp := regexp.MustCompile(`Signature algorithm name: (.*)`)

	scanner := bufio.NewScanner(strings.NewReader(printcert))
	for scanner.Scan() {
		matches := exp.FindStringSubmatch(scanner.Text())
		if len(matches) > 1 {
			return strings.TrimSpace(matches[1]), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", nil
}

func findSHA256Fingerprint(printcert string) string {
	exp := regexp.MustCompile(`SHA256: ([0-9A-F:]+)`)
	if matches := exp.FindStringSubmatch(printcert); len(matches) > 1 {
		return matches[1]
	}
	return ""
}

func TestDescribe(t *testing.T) {
	der := selfSigned(t)

	cert, err := Describe(der)
	require.NoError(t, err)

	require.Equal(t, "CN=Android Debug, O=Android, C=US", cert.Owner)
	require.Equal(t, cert.Owner, cert.Issuer)
	require.Equal(t, "5eed", cert.SerialNumber)
	require.Equal(t, "SHA256withECDSA", cert.SignatureAlgorithm)
	require.Equal(t, "ECDSA", cert.PublicKeyAlgorithm)
	require.Equal(t, 2021, cert.NotBefore.Year())

	sum := sha256.Sum256(der)
	require.Equal(t, 32*3-1, len(cert.SHA256))
	require.Equal(t, fmt.Sprintf("%X", sum), strings.Replace(cert.SHA256, ":", "", -1))
	require.Equal(t, 16*3-1, len(cert.MD5))
	require.Equal(t, 20*3-1, len(cert.SHA1))

	out := cert.String()
	require.Contains(t, out, "Owner: CN=Android Debug, O=Android, C=US\n")
	require.Contains(t, out, "Valid from: Mon Mar 01 10:00:00 UTC 2021 until: Wed Feb 22 10:00:00 UTC 2051\n")

	sigAlg, err := findSignatureAlgorithm(out)
	require.NoError(t, err)
	require.Equal(t, "SHA256withECDSA", sigAlg)
	require.Equal(t, cert.SHA256, findSHA256Fingerprint(out))
}

func TestDescribeGarbage(t *testing.T) {
	_, err := Describe([]byte{0x30, 0x82, 0x01, 0x02})
	require.Error(t, err)

	_, err = Describe(nil)
	require.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	require.Equal(t,
		"E3:B0:C4:42:98:FC:1C:14:9A:FB:F4:C8:99:6F:B9:24:27:AE:41:E4:64:9B:93:4C:A4:95:99:1B:78:52:B8:55",
		Fingerprint(sha256.New(), nil))
}

func TestDistinguishedName(t *testing.T) {
	require.Equal(t, "CN=a, O=b", distinguishedName("CN=a,O=b"))
	require.Equal(t, `CN=a\,b, O=c`, distinguishedName(`CN=a\,b,O=c`))
	require.Equal(t, "", distinguishedName(""))
}

func TestMatchesKeytool(t *testing.T) {
	if _, err := exec.LookPath("keytool"); err != nil {
		t.Skip("keytool not installed")
	}

	tmpDir, err := ioutil.TempDir("", "")
	require.NoError(t, err)
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warnf("failed to remove temp dir, error: %s", err)
		}
	}()

	der := selfSigned(t)
	pth := filepath.Join(tmpDir, "cert.der")
	require.NoError(t, ioutil.WriteFile(pth, der, 0600))

	out, err := command.New("keytool", "-printcert", "-file", pth, "-J-Dfile.encoding=utf-8", "-J-Duser.language=en-US").RunAndReturnTrimmedCombinedOutput()
	require.NoError(t, err, out)

	cert, err := Describe(der)
	require.NoError(t, err)

	sigAlg, err := findSignatureAlgorithm(out)
	require.NoError(t, err)
	require.Equal(t, sigAlg, cert.SignatureAlgorithm)
	require.Equal(t, findSHA256Fingerprint(out), cert.SHA256)
}
