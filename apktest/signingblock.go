package apktest

import (
	"bytes"
	"encoding/binary"
)

// Signing block entry ids.
const (
	SchemeV2ID   uint32 = 0x7109871a
	SchemeV3ID   uint32 = 0xf05368c0
	VerityPadID  uint32 = 0x42726577
	SchemeV31ID  uint32 = 0x1b93ad61
	SigningMagic        = "APK Sig Block 42"
)

// Pair is one ID-value entry of the signing block.
type Pair struct {
	ID    uint32
	Value []byte
}

// AlgValue is an (algorithm id, bytes) record, used for digests, signatures
// and additional attributes.
type AlgValue struct {
	Algorithm uint32
	Value     []byte
}

// Signer is the content of one signer sub-block.
type Signer struct {
	Digests      []AlgValue
	Certificates [][]byte
	Signatures   []AlgValue
	Attributes   []AlgValue
	PublicKey    []byte
	MinSDK       uint32
	MaxSDK       uint32
}

// SigningBlock serializes pairs into a complete APK Signing Block.
func SigningBlock(pairs ...Pair) []byte {
	var body bytes.Buffer
	for _, p := range pairs {
		writeU64(&body, uint64(4+len(p.Value)))
		writeU32(&body, p.ID)
		body.Write(p.Value)
	}

	size := uint64(body.Len() + 8 + 16)

	var out bytes.Buffer
	writeU64(&out, size)
	out.Write(body.Bytes())
	writeU64(&out, size)
	out.WriteString(SigningMagic)
	return out.Bytes()
}

// V2Value serializes signers as the value of a V2 scheme entry.
func V2Value(signers ...Signer) []byte {
	var list bytes.Buffer
	for _, s := range signers {
		var signer bytes.Buffer
		writePrefixed(&signer, signedData(s, false))
		writePrefixed(&signer, algValues(s.Signatures))
		writePrefixed(&signer, s.PublicKey)
		writePrefixed(&list, signer.Bytes())
	}

	var out bytes.Buffer
	writePrefixed(&out, list.Bytes())
	return out.Bytes()
}

// V3Value serializes signers as the value of a V3 scheme entry.
func V3Value(signers ...Signer) []byte {
	var list bytes.Buffer
	for _, s := range signers {
		var signer bytes.Buffer
		writePrefixed(&signer, signedData(s, true))
		writeU32(&signer, s.MinSDK, s.MaxSDK)
		writePrefixed(&signer, algValues(s.Signatures))
		writePrefixed(&signer, s.PublicKey)
		writePrefixed(&list, signer.Bytes())
	}

	var out bytes.Buffer
	writePrefixed(&out, list.Bytes())
	return out.Bytes()
}

func signedData(s Signer, v3 bool) []byte {
	var certs bytes.Buffer
	for _, c := range s.Certificates {
		writePrefixed(&certs, c)
	}

	var attrs bytes.Buffer
	for _, a := range s.Attributes {
		var attr bytes.Buffer
		writeU32(&attr, a.Algorithm)
		attr.Write(a.Value)
		writePrefixed(&attrs, attr.Bytes())
	}

	var out bytes.Buffer
	writePrefixed(&out, algValues(s.Digests))
	writePrefixed(&out, certs.Bytes())
	if v3 {
		writeU32(&out, s.MinSDK, s.MaxSDK)
	}
	writePrefixed(&out, attrs.Bytes())
	return out.Bytes()
}

func algValues(vs []AlgValue) []byte {
	var out bytes.Buffer
	for _, v := range vs {
		var rec bytes.Buffer
		writeU32(&rec, v.Algorithm)
		writePrefixed(&rec, v.Value)
		writePrefixed(&out, rec.Bytes())
	}
	return out.Bytes()
}

func writePrefixed(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeU64(buf *bytes.Buffer, v uint64) {
	_ = binary.Write(buf, binary.LittleEndian, v)
}
