// Package apkinfo extracts the identity of an APK: the main manifest fields
// and the signer material of its APK Signing Block.
//
// Nothing is verified. Signer records are reported as found so a caller can
// display or compare them; trust decisions are left to apksigner.
package apkinfo

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-steplib/steps-apk-info/binxml"
	"github.com/bitrise-steplib/steps-apk-info/manifest"
	"github.com/bitrise-steplib/steps-apk-info/signingblock"
	"github.com/bitrise-steplib/steps-apk-info/source"
	"github.com/bitrise-steplib/steps-apk-info/zipindex"
)

// ManifestPath is the zip entry holding the binary manifest.
const ManifestPath = "AndroidManifest.xml"

var signingFileExts = []string{".mf", ".rsa", ".dsa", ".ec", ".sf"}

// ParsedResult is everything LoadManifest reads from one APK. It shares no
// memory with the APK source.
type ParsedResult struct {
	Manifest manifest.Fields
	// Signers is flattened across the V2 and V3 entries, in block order.
	Signers []signingblock.SignerRecord
	// JarSigningFiles lists the v1 (JAR) signature files under META-INF.
	JarSigningFiles []string
	// SigningBlockEntries names every entry of the APK Signing Block,
	// recognized or not.
	SigningBlockEntries []string

	signingBlock bool
}

// HasSigningBlock reports whether the APK carries an APK Signing Block, even
// one without V2/V3 entries.
func (r *ParsedResult) HasSigningBlock() bool {
	return r.signingBlock
}

// HasSigners reports whether any V2/V3 signer record was found.
func (r *ParsedResult) HasSigners() bool {
	return len(r.Signers) > 0
}

// IsJarSigned reports whether a JAR signature block file (DSA, RSA or EC) is
// present under META-INF.
func (r *ParsedResult) IsJarSigned() bool {
	for _, f := range r.JarSigningFiles {
		ext := filepath.Ext(f)
		if strings.EqualFold(ext, ".dsa") || strings.EqualFold(ext, ".rsa") || strings.EqualFold(ext, ".ec") {
			return true
		}
	}
	return false
}

// Package is a handle to one APK on disk.
type Package struct {
	pth string
}

// NewPackage ...
func NewPackage(pth string) *Package {
	return &Package{pth: pth}
}

// Path ...
func (p *Package) Path() string {
	return p.pth
}

// LoadManifest opens the package, reads it and releases the file again.
func (p *Package) LoadManifest() (*ParsedResult, error) {
	return LoadManifest(p.pth)
}

// LoadManifest reads the manifest fields and signer records of the APK at pth.
func LoadManifest(pth string) (*ParsedResult, error) {
	log.Debugf("Loading %s", pth)

	var result *ParsedResult
	err := source.WithFile(pth, func(r *source.Reader) error {
		var err error
		result, err = Load(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LoadManifestFromBytes is LoadManifest for an APK already in memory.
func LoadManifestFromBytes(b []byte) (*ParsedResult, error) {
	return Load(source.FromBytes(b))
}

// Load reads the manifest fields and signer records from r.
//
// A missing signing block is not an error: the result has no signer records.
// Every other failure aborts the whole load.
func Load(r *source.Reader) (*ParsedResult, error) {
	idx, err := zipindex.Open(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	log.Debugf("%d zip entries, central directory at 0x%x (%d bytes), end record at 0x%x", len(idx.Names()), idx.CentralDirectoryOffset, idx.CentralDirectorySize, idx.EndOfCentralDirOffset)

	data, err := idx.ReadEntry(ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestPath, err)
	}
	log.Debugf("%s: %d bytes", ManifestPath, len(data))

	doc, err := binxml.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ManifestPath, err)
	}

	result := &ParsedResult{
		Manifest:        manifest.Project(doc),
		JarSigningFiles: filterSigningFiles(filterMETAFiles(idx.Names())),
	}

	block, err := signingblock.Read(r, idx.CentralDirectoryOffset)
	switch {
	case errors.Is(err, signingblock.ErrNoSigningBlock):
		log.Warnf("No APK Signing Block found, the APK is unsigned or signed with the JAR scheme only")
		return result, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read signing block: %w", err)
	}

	result.signingBlock = true
	result.SigningBlockEntries = []string{}
	for _, e := range block.Entries {
		result.SigningBlockEntries = append(result.SigningBlockEntries, e.Name())
		if e.Scheme == signingblock.SchemeUnrecognized {
			log.Debugf("Skipping signing block entry: %s (%d bytes)", e.Name(), len(e.Value))
		}
	}

	result.Signers = block.Records()
	log.Debugf("%d signer records", len(result.Signers))
	for _, rec := range result.Signers {
		if !rec.Algorithm.Known() {
			log.Warnf("%s signer uses an unknown signature algorithm: %s", rec.Scheme, rec.Algorithm)
		}
	}

	return result, nil
}

func filterMETAFiles(fileList []string) []string {
	metaFiles := []string{}
	for _, file := range fileList {
		if strings.HasPrefix(file, "META-INF/") {
			metaFiles = append(metaFiles, file)
		}
	}
	return metaFiles
}

func filterSigningFiles(fileList []string) []string {
	var signingFiles []string
	for _, file := range fileList {
		ext := filepath.Ext(file)
		for _, signExt := range signingFileExts {
			if strings.EqualFold(ext, signExt) {
				signingFiles = append(signingFiles, file)
			}
		}
	}
	return signingFiles
}
