package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-steplib/steps-apk-info/apkinfo"
	"github.com/bitrise-steplib/steps-apk-info/manifest"
	"github.com/bitrise-steplib/steps-apk-info/signingblock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPrettyBuildArtifactBasename(t *testing.T) {
	require.Equal(t, "app", prettyBuildArtifactBasename("app-unsigned.apk"))
	require.Equal(t, "app-signed", prettyBuildArtifactBasename("app-signed.apk"))
	require.Equal(t, "app-debug", prettyBuildArtifactBasename("app-debug.apk"))
	require.Equal(t, "app-release", prettyBuildArtifactBasename("/bitrise/deploy/app-release.apk"))
}

func TestParseAppList(t *testing.T) {
	t.Log("single path")
	{
		require.Equal(t, []string{"app.apk"}, parseAppList(" app.apk "))
	}

	t.Log("pipe and newline separated")
	{
		require.Equal(t, []string{"a.apk", "b.apk", "c.apk", "d.apk"}, parseAppList("a.apk|b.apk\nc.apk\\nd.apk"))
	}

	t.Log("empty elements are dropped")
	{
		require.Equal(t, []string{"a.apk", "b.apk"}, parseAppList("a.apk||\n b.apk |"))
	}

	t.Log("empty list")
	{
		require.Equal(t, 0, len(parseAppList("  ")))
	}
}

func TestValidate(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "")
	require.NoError(t, err)
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warnf("failed to remove temp dir, error: %s", err)
		}
	}()

	apk := filepath.Join(tmpDir, "app.apk")
	aab := filepath.Join(tmpDir, "app.aab")
	require.NoError(t, ioutil.WriteFile(apk, []byte("PK"), 0600))
	require.NoError(t, ioutil.WriteFile(aab, []byte("PK"), 0600))

	require.NoError(t, validate(configs{APKPath: apk}))
	require.Error(t, validate(configs{APKPath: ""}))
	require.Error(t, validate(configs{APKPath: filepath.Join(tmpDir, "missing.apk")}))
	require.Error(t, validate(configs{APKPath: apk + "|" + aab}))
}

func TestNewAPKReport(t *testing.T) {
	pkg := "com.example.app"
	code := uint32(12)
	result := &apkinfo.ParsedResult{
		Manifest: manifest.Fields{Package: &pkg, VersionCode: &code},
		Signers: []signingblock.SignerRecord{
			{
				Scheme:       signingblock.SchemeV2,
				Algorithm:    signingblock.ECDSAWithSHA256,
				Digest:       []byte{0xab, 0xcd},
				Signature:    []byte{0x01},
				Certificates: [][]byte{{0x30, 0x00}},
			},
		},
		JarSigningFiles:     []string{"META-INF/MANIFEST.MF"},
		SigningBlockEntries: []string{"v2 scheme", "verity padding"},
	}

	report := newAPKReport("/tmp/app-release-unsigned.apk", result)
	require.Equal(t, "app-release", report.Name)
	require.Equal(t, "/tmp/app-release-unsigned.apk", report.Path)
	require.Equal(t, "com.example.app", *report.Manifest.Package)
	require.Equal(t, []string{"META-INF/MANIFEST.MF"}, report.JarSigningFiles)
	require.Equal(t, []string{"v2 scheme", "verity padding"}, report.SigningBlockEntries)

	require.Equal(t, 1, len(report.Signers))
	require.Equal(t, "v2", report.Signers[0].Scheme)
	require.Equal(t, "ECDSA_WITH_SHA256", report.Signers[0].Algorithm)
	require.Equal(t, "abcd", report.Signers[0].Digest)
	require.Equal(t, 0, len(report.Signers[0].Certificates))
	require.Equal(t, "", signerSHA256(report))

	t.Log("unsigned")
	{
		report := newAPKReport("app.apk", &apkinfo.ParsedResult{})
		require.NotNil(t, report.Signers)
		require.Equal(t, 0, len(report.Signers))
	}
}

func TestWriteReport(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "")
	require.NoError(t, err)
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warnf("failed to remove temp dir, error: %s", err)
		}
	}()

	pkg := "com.example.app"
	reports := []apkReport{
		{Name: "app", Path: "app.apk", Manifest: manifest.Fields{Package: &pkg}, Signers: []signerReport{}},
	}

	pth, err := writeReport(filepath.Join(tmpDir, "reports"), reports)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(tmpDir, "reports", reportFileName), pth)

	content, err := ioutil.ReadFile(pth)
	require.NoError(t, err)

	var got []map[string]interface{}
	require.NoError(t, yaml.Unmarshal(content, &got))
	require.Equal(t, 1, len(got))
	require.Equal(t, "app", got[0]["name"])

	m, ok := got[0]["manifest"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "com.example.app", m["package"])
}

func TestValueOrEmpty(t *testing.T) {
	s := "1.0"
	n := uint32(42)
	require.Equal(t, "", valueOrEmpty(nil))
	require.Equal(t, "1.0", valueOrEmpty(&s))
	require.Equal(t, "", uintOrEmpty(nil))
	require.Equal(t, "42", uintOrEmpty(&n))
}
