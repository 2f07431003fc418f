package signingblock

import "fmt"

// SignatureAlgorithm is the algorithm id attached to every digest and
// signature record of a V2/V3 signer.
type SignatureAlgorithm uint32

// https://android.googlesource.com/platform/tools/apksig/+/master/src/main/java/com/android/apksig/internal/apk/SignatureAlgorithm.java
const (
	RSAPSSWithSHA256            SignatureAlgorithm = 0x0101
	RSAPSSWithSHA512            SignatureAlgorithm = 0x0102
	RSAPKCS1v15WithSHA256       SignatureAlgorithm = 0x0103
	RSAPKCS1v15WithSHA512       SignatureAlgorithm = 0x0104
	ECDSAWithSHA256             SignatureAlgorithm = 0x0201
	ECDSAWithSHA512             SignatureAlgorithm = 0x0202
	DSAWithSHA256               SignatureAlgorithm = 0x0301
	VerityRSAPKCS1v15WithSHA256 SignatureAlgorithm = 0x0421
	VerityECDSAWithSHA256       SignatureAlgorithm = 0x0423
	VerityDSAWithSHA256         SignatureAlgorithm = 0x0425
)

var algorithmNames = map[SignatureAlgorithm]string{
	RSAPSSWithSHA256:            "RSA_PSS_WITH_SHA256",
	RSAPSSWithSHA512:            "RSA_PSS_WITH_SHA512",
	RSAPKCS1v15WithSHA256:       "RSA_PKCS1_V1_5_WITH_SHA256",
	RSAPKCS1v15WithSHA512:       "RSA_PKCS1_V1_5_WITH_SHA512",
	ECDSAWithSHA256:             "ECDSA_WITH_SHA256",
	ECDSAWithSHA512:             "ECDSA_WITH_SHA512",
	DSAWithSHA256:               "DSA_WITH_SHA256",
	VerityRSAPKCS1v15WithSHA256: "VERITY_RSA_PKCS1_V1_5_WITH_SHA256",
	VerityECDSAWithSHA256:       "VERITY_ECDSA_WITH_SHA256",
	VerityDSAWithSHA256:         "VERITY_DSA_WITH_SHA256",
}

// Known reports whether a is one of the algorithms defined by apksig.
func (a SignatureAlgorithm) Known() bool {
	_, ok := algorithmNames[a]
	return ok
}

func (a SignatureAlgorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%04x)", uint32(a))
}
