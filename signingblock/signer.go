package signingblock

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// AlgorithmValue is a digest or signature tagged with its algorithm.
type AlgorithmValue struct {
	Algorithm SignatureAlgorithm
	Value     []byte
}

// Attribute is an additional attribute from a signer's signed data.
type Attribute struct {
	ID    uint32
	Value []byte
}

// Signer is one signer sub-block of a V2 or V3 entry.
type Signer struct {
	Scheme       Scheme
	Digests      []AlgorithmValue
	Certificates [][]byte
	Attributes   []Attribute
	Signatures   []AlgorithmValue
	PublicKey    []byte

	// V3 only. MinSDK/MaxSDK are the unsigned copies next to the signed
	// data, SignedMinSDK/SignedMaxSDK the ones inside it.
	MinSDK       uint32
	MaxSDK       uint32
	SignedMinSDK uint32
	SignedMaxSDK uint32

	records []SignerRecord
}

// SignerRecord is a signature joined with the digest of the same algorithm
// and the signer's certificate chain.
type SignerRecord struct {
	Scheme       Scheme
	Algorithm    SignatureAlgorithm
	Digest       []byte
	Signature    []byte
	Certificates [][]byte
}

// Records returns copies of the signer's records, one per signature, in
// signature order.
func (s Signer) Records() []SignerRecord {
	records := make([]SignerRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r.clone())
	}
	return records
}

func (r SignerRecord) clone() SignerRecord {
	certs := make([][]byte, 0, len(r.Certificates))
	for _, c := range r.Certificates {
		certs = append(certs, clone(c))
	}
	return SignerRecord{
		Scheme:       r.Scheme,
		Algorithm:    r.Algorithm,
		Digest:       clone(r.Digest),
		Signature:    clone(r.Signature),
		Certificates: certs,
	}
}

func parseSigners(scheme Scheme, value []byte) ([]Signer, error) {
	block := bytes.NewBuffer(value)

	signers, err := getLengthPrefixedSlice(block)
	if err != nil {
		return nil, fmt.Errorf("failed to read list of signers: %w", err)
	}
	if block.Len() > 0 {
		return nil, fmt.Errorf("%d trailing bytes after list of signers: %w", block.Len(), ErrCorruptSigningBlock)
	}

	var result []Signer
	signerCount := 0
	for signers.Len() > 0 {
		signerCount++

		signerBlock, err := getLengthPrefixedSlice(signers)
		if err != nil {
			return nil, fmt.Errorf("failed to read signer #%d block: %w", signerCount, err)
		}

		signer, err := parseSigner(scheme, signerBlock)
		if err != nil {
			return nil, fmt.Errorf("signer #%d: %w", signerCount, err)
		}
		result = append(result, signer)
	}

	return result, nil
}

func parseSigner(scheme Scheme, signerBlock *bytes.Buffer) (Signer, error) {
	signer := Signer{Scheme: scheme}

	signedData, err := getLengthPrefixedSlice(signerBlock)
	if err != nil {
		return Signer{}, fmt.Errorf("failed to read signed data: %w", err)
	}

	if scheme == SchemeV3 {
		if signer.MinSDK, err = readUint32(signerBlock); err != nil {
			return Signer{}, fmt.Errorf("failed to read minSdkVersion: %w", err)
		}
		if signer.MaxSDK, err = readUint32(signerBlock); err != nil {
			return Signer{}, fmt.Errorf("failed to read maxSdkVersion: %w", err)
		}
	}

	signaturesSlice, err := getLengthPrefixedSlice(signerBlock)
	if err != nil {
		return Signer{}, fmt.Errorf("failed to read signatures: %w", err)
	}
	if signer.Signatures, err = parseAlgorithmValues(signaturesSlice); err != nil {
		return Signer{}, fmt.Errorf("failed to parse signatures: %w", err)
	}

	publicKeySlice, err := getLengthPrefixedSlice(signerBlock)
	if err != nil {
		return Signer{}, fmt.Errorf("failed to read public key: %w", err)
	}
	signer.PublicKey = clone(publicKeySlice.Bytes())

	digestsSlice, err := getLengthPrefixedSlice(signedData)
	if err != nil {
		return Signer{}, fmt.Errorf("failed to read digests from signed data: %w", err)
	}
	if signer.Digests, err = parseAlgorithmValues(digestsSlice); err != nil {
		return Signer{}, fmt.Errorf("failed to parse digests: %w", err)
	}

	certificatesSlice, err := getLengthPrefixedSlice(signedData)
	if err != nil {
		return Signer{}, fmt.Errorf("failed to read certificates from signed data: %w", err)
	}
	for certificatesSlice.Len() > 0 {
		cert, err := getLengthPrefixedSlice(certificatesSlice)
		if err != nil {
			return Signer{}, fmt.Errorf("failed to read certificate #%d: %w", len(signer.Certificates)+1, err)
		}
		signer.Certificates = append(signer.Certificates, clone(cert.Bytes()))
	}

	if scheme == SchemeV3 {
		if signer.SignedMinSDK, err = readUint32(signedData); err != nil {
			return Signer{}, fmt.Errorf("failed to read signed minSdkVersion: %w", err)
		}
		if signer.SignedMaxSDK, err = readUint32(signedData); err != nil {
			return Signer{}, fmt.Errorf("failed to read signed maxSdkVersion: %w", err)
		}
	}

	additionalAttributes, err := getLengthPrefixedSlice(signedData)
	if err != nil {
		return Signer{}, fmt.Errorf("failed to read additional attributes from signed data: %w", err)
	}
	for additionalAttributes.Len() > 0 {
		attribute, err := getLengthPrefixedSlice(additionalAttributes)
		if err != nil {
			return Signer{}, fmt.Errorf("failed to read additional attribute #%d: %w", len(signer.Attributes)+1, err)
		}
		id, err := readUint32(attribute)
		if err != nil {
			return Signer{}, fmt.Errorf("failed to read additional attribute #%d id: %w", len(signer.Attributes)+1, err)
		}
		signer.Attributes = append(signer.Attributes, Attribute{ID: id, Value: clone(attribute.Bytes())})
	}

	if signer.records, err = pair(signer); err != nil {
		return Signer{}, err
	}
	return signer, nil
}

// pair matches each signature with the digest of the same algorithm.
func pair(s Signer) ([]SignerRecord, error) {
	if len(s.Signatures) == 0 {
		return nil, fmt.Errorf("no signatures: %w", ErrCorruptSigningBlock)
	}
	if len(s.Certificates) == 0 {
		return nil, fmt.Errorf("no certificates: %w", ErrCorruptSigningBlock)
	}
	if len(s.Digests) != len(s.Signatures) {
		return nil, fmt.Errorf("%d digests for %d signatures: %w", len(s.Digests), len(s.Signatures), ErrCorruptSigningBlock)
	}

	used := make([]bool, len(s.Digests))
	records := make([]SignerRecord, 0, len(s.Signatures))
	for _, sig := range s.Signatures {
		found := -1
		for i, d := range s.Digests {
			if !used[i] && d.Algorithm == sig.Algorithm {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("no digest for signature algorithm %s: %w", sig.Algorithm, ErrCorruptSigningBlock)
		}
		used[found] = true

		records = append(records, SignerRecord{
			Scheme:       s.Scheme,
			Algorithm:    sig.Algorithm,
			Digest:       s.Digests[found].Value,
			Signature:    sig.Value,
			Certificates: s.Certificates,
		})
	}
	return records, nil
}

func parseAlgorithmValues(list *bytes.Buffer) ([]AlgorithmValue, error) {
	var values []AlgorithmValue
	for list.Len() > 0 {
		record, err := getLengthPrefixedSlice(list)
		if err != nil {
			return nil, fmt.Errorf("record #%d: %w", len(values)+1, err)
		}
		algorithm, err := readUint32(record)
		if err != nil {
			return nil, fmt.Errorf("record #%d algorithm: %w", len(values)+1, err)
		}
		value, err := getLengthPrefixedSlice(record)
		if err != nil {
			return nil, fmt.Errorf("record #%d value: %w", len(values)+1, err)
		}
		values = append(values, AlgorithmValue{
			Algorithm: SignatureAlgorithm(algorithm),
			Value:     clone(value.Bytes()),
		})
	}
	return values, nil
}

func getLengthPrefixedSlice(buf *bytes.Buffer) (*bytes.Buffer, error) {
	length, err := readUint32(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read length: %w", err)
	}
	if uint64(length) > uint64(buf.Len()) {
		return nil, fmt.Errorf("length prefix %d exceeds remaining %d bytes: %w", length, buf.Len(), ErrCorruptSigningBlock)
	}
	return bytes.NewBuffer(buf.Next(int(length))), nil
}

func readUint32(buf *bytes.Buffer) (uint32, error) {
	if buf.Len() < 4 {
		return 0, fmt.Errorf("need 4 bytes, %d remaining: %w", buf.Len(), ErrCorruptSigningBlock)
	}
	return binary.LittleEndian.Uint32(buf.Next(4)), nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
