package apkinfo

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"io/ioutil"
	"os"
	"path"
	"testing"

	"github.com/avast/apkparser"
	"github.com/bitrise-io/go-utils/command/git"
	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-steplib/steps-apk-info/signingblock"
	"github.com/stretchr/testify/require"
)

type parsedManifest struct {
	XMLName     xml.Name `xml:"manifest"`
	Package     string   `xml:"package,attr"`
	VersionCode string   `xml:"versionCode,attr"`
	VersionName string   `xml:"versionName,attr"`
}

func parseWithApkparser(t *testing.T, apkPath string) parsedManifest {
	var manifestContent bytes.Buffer
	enc := xml.NewEncoder(&manifestContent)
	enc.Indent("", "\t")

	zipErr, _, manErr := apkparser.ParseApk(apkPath, enc)
	require.NoError(t, zipErr)
	require.NoError(t, manErr)

	var m parsedManifest
	require.NoError(t, xml.Unmarshal(manifestContent.Bytes(), &m))
	return m
}

func hasScheme(result *ParsedResult, scheme signingblock.Scheme) bool {
	for _, s := range result.Signers {
		if s.Scheme == scheme {
			return true
		}
	}
	return false
}

func TestLoadManifestSampleArtifacts(t *testing.T) {
	if testing.Short() {
		t.Skip("clones bitrise-io/sample-artifacts")
	}

	tmpDir, err := ioutil.TempDir("", "")
	if err != nil {
		t.Fatalf("setup: failed to create temp dir, error: %s", err)
	}

	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warnf("failed to remove temp dir, error: %s", err)
		}
	}()

	gitCommand, err := git.New(tmpDir)
	if err != nil {
		t.Fatalf("setup: failed to create git project, error: %s", err)
	}
	if err := gitCommand.Clone("https://github.com/bitrise-io/sample-artifacts.git").Run(); err != nil {
		t.Skipf("setup: failed to clone test artifact repo, error: %s", err)
	}

	tests := []struct {
		name    string
		apkPath string
	}{
		{
			name:    "debug apk",
			apkPath: path.Join(tmpDir, "apks", "app-debug.apk"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := parseWithApkparser(t, tt.apkPath)

			got, err := NewPackage(tt.apkPath).LoadManifest()
			require.NoError(t, err)

			require.NotNil(t, got.Manifest.Package)
			require.Equal(t, want.Package, *got.Manifest.Package)
			if want.VersionName != "" && got.Manifest.VersionName != nil {
				require.Equal(t, want.VersionName, *got.Manifest.VersionName)
			}

			for _, s := range got.Signers {
				require.NotEmpty(t, s.Digest)
				require.NotEmpty(t, s.Signature)
				require.NotEmpty(t, s.Certificates)
			}

			apkSigner, err := apkSignerPath()
			if err != nil {
				t.Logf("skip apksigner comparison: %s", err)
				return
			}

			out, err := runAPKSigner(apkSigner, "verify", "--print-certs", "-v", tt.apkPath)
			require.NoError(t, err)

			report := parseAPKSignerOutput(out)
			require.Equal(t, report.verified["v2"], hasScheme(got, signingblock.SchemeV2))
			require.Equal(t, report.verified["v3"], hasScheme(got, signingblock.SchemeV3))
			for _, s := range got.Signers {
				sum := sha256.Sum256(s.Certificates[0])
				require.Contains(t, report.certSHA256, hex.EncodeToString(sum[:]))
			}
		})
	}
}
