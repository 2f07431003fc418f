package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-steputils/stepconf"
	"github.com/bitrise-io/go-steputils/tools"
	"github.com/bitrise-io/go-utils/fileutil"
	"github.com/bitrise-io/go-utils/log"
	"github.com/bitrise-io/go-utils/pathutil"
	"github.com/bitrise-steplib/steps-apk-info/apkinfo"
	"github.com/bitrise-steplib/steps-apk-info/certinfo"
	"github.com/bitrise-steplib/steps-apk-info/manifest"
	"gopkg.in/yaml.v3"
)

const reportFileName = "apk_info.yml"

// -----------------------
// --- Models
// -----------------------

type configs struct {
	APKPath    string `env:"apk_path,required"`
	ReportPath string `env:"report_path"`
	VerboseLog bool   `env:"verbose_log,opt[true,false]"`
}

type signerReport struct {
	Scheme       string                 `yaml:"scheme"`
	Algorithm    string                 `yaml:"algorithm"`
	Digest       string                 `yaml:"digest"`
	Certificates []certinfo.Certificate `yaml:"certificates,omitempty"`
}

type apkReport struct {
	Name                string          `yaml:"name"`
	Path                string          `yaml:"path"`
	Manifest            manifest.Fields `yaml:"manifest"`
	Signers             []signerReport  `yaml:"signers"`
	SigningBlockEntries []string        `yaml:"signing_block_entries,omitempty"`
	JarSigningFiles     []string        `yaml:"jar_signing_files,omitempty"`
}

func splitElements(list []string, sep string) (s []string) {
	for _, e := range list {
		s = append(s, strings.Split(e, sep)...)
	}
	return
}

func parseAppList(list string) (apps []string) {
	list = strings.TrimSpace(list)
	if len(list) == 0 {
		return nil
	}

	s := []string{list}
	for _, sep := range []string{"\n", `\n`, "|"} {
		s = splitElements(s, sep)
	}

	for _, app := range s {
		app = strings.TrimSpace(app)
		if len(app) > 0 {
			apps = append(apps, app)
		}
	}
	return
}

// -----------------------
// --- Functions
// -----------------------

func prettyBuildArtifactBasename(buildArtifactPth string) string {
	buildArtifactBasenameWithExt := path.Base(buildArtifactPth)
	buildArtifactExt := filepath.Ext(buildArtifactBasenameWithExt)
	buildArtifactBasename := strings.TrimSuffix(buildArtifactBasenameWithExt, buildArtifactExt)
	buildArtifactBasename = strings.TrimSuffix(buildArtifactBasename, "-unsigned")
	return buildArtifactBasename
}

func failf(format string, v ...interface{}) {
	log.Errorf(format, v...)
	os.Exit(1)
}

func validate(cfg configs) error {
	apkPaths := parseAppList(cfg.APKPath)
	if len(apkPaths) == 0 {
		return fmt.Errorf("no APK path provided")
	}

	for _, apkPath := range apkPaths {
		if exist, err := pathutil.IsPathExists(apkPath); err != nil {
			return fmt.Errorf("failed to check if APK exist at: %s, error: %s", apkPath, err)
		} else if !exist {
			return fmt.Errorf("APK not exist at: %s", apkPath)
		}

		if strings.EqualFold(filepath.Ext(apkPath), ".aab") {
			return fmt.Errorf("%s is an App Bundle, only APKs are supported", apkPath)
		}
	}
	return nil
}

func newAPKReport(pth string, result *apkinfo.ParsedResult) apkReport {
	report := apkReport{
		Name:                prettyBuildArtifactBasename(pth),
		Path:                pth,
		Manifest:            result.Manifest,
		Signers:             []signerReport{},
		SigningBlockEntries: result.SigningBlockEntries,
		JarSigningFiles:     result.JarSigningFiles,
	}

	for _, s := range result.Signers {
		signer := signerReport{
			Scheme:    s.Scheme.String(),
			Algorithm: s.Algorithm.String(),
			Digest:    hex.EncodeToString(s.Digest),
		}
		for i, der := range s.Certificates {
			cert, err := certinfo.Describe(der)
			if err != nil {
				log.Warnf("Signer certificate #%d of %s: %s", i, pth, err)
				continue
			}
			signer.Certificates = append(signer.Certificates, cert)
		}
		report.Signers = append(report.Signers, signer)
	}

	return report
}

func printReport(report apkReport) {
	m := report.Manifest
	log.Printf("package: %s", manifest.String(m.Package))
	log.Printf("versionCode: %s", manifest.Uint(m.VersionCode))
	log.Printf("versionName: %s", manifest.String(m.VersionName))
	log.Printf("minSdkVersion: %s", manifest.Uint(m.MinSdkVersion))
	log.Printf("targetSdkVersion: %s", manifest.Uint(m.TargetSdkVersion))
	log.Printf("maxSdkVersion: %s", manifest.Uint(m.MaxSdkVersion))
	log.Debugf("compileSdkVersion: %s (%s)", manifest.Uint(m.CompileSdkVersion), manifest.String(m.CompileSdkVersionCodename))
	log.Debugf("platformBuildVersion: %s (%s)", manifest.Uint(m.PlatformBuildVersionCode), manifest.String(m.PlatformBuildVersionName))
	log.Debugf("icon: %s, label: %s", manifest.String(m.Icon), manifest.String(m.Label))

	if len(report.JarSigningFiles) > 0 {
		log.Printf("JAR signature files: %s", strings.Join(report.JarSigningFiles, ", "))
	}

	if len(report.SigningBlockEntries) > 0 {
		log.Debugf("APK Signing Block entries: %s", strings.Join(report.SigningBlockEntries, ", "))
	}

	if len(report.Signers) == 0 {
		log.Warnf("No v2/v3 signer found")
		return
	}
	for i, s := range report.Signers {
		log.Printf("signer #%d: %s %s", i+1, s.Scheme, s.Algorithm)
		for _, cert := range s.Certificates {
			log.Debugf("%s", cert)
		}
	}
}

// signerSHA256 returns the SHA-256 fingerprint of the first signer's leaf
// certificate.
func signerSHA256(report apkReport) string {
	for _, s := range report.Signers {
		if len(s.Certificates) > 0 {
			return s.Certificates[0].SHA256
		}
	}
	return ""
}

func writeReport(dir string, reports []apkReport) (string, error) {
	content, err := yaml.Marshal(reports)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %s", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %s", err)
	}

	pth := filepath.Join(dir, reportFileName)
	if err := fileutil.WriteBytesToFile(pth, content); err != nil {
		return "", fmt.Errorf("failed to write report: %s", err)
	}
	return pth, nil
}

func exportEnvs(report apkReport, reportPth string) {
	m := report.Manifest
	envs := []struct {
		key   string
		value string
	}{
		{"BITRISE_APK_PACKAGE_NAME", valueOrEmpty(m.Package)},
		{"BITRISE_APK_VERSION_CODE", uintOrEmpty(m.VersionCode)},
		{"BITRISE_APK_VERSION_NAME", valueOrEmpty(m.VersionName)},
		{"BITRISE_APK_MIN_SDK_VERSION", uintOrEmpty(m.MinSdkVersion)},
		{"BITRISE_APK_SIGNER_SHA256", signerSHA256(report)},
		{"BITRISE_APK_INFO_REPORT_PATH", reportPth},
	}

	for _, env := range envs {
		if env.value == "" {
			log.Debugf("No value - skip %s Environment Variable export", env.key)
			continue
		}
		if err := tools.ExportEnvironmentWithEnvman(env.key, env.value); err != nil {
			log.Warnf("Failed to export %s (%s), error: %s", env.key, env.value, err)
		} else {
			log.Donef("The %s Environment Variable is now available (value: %s)", env.key, env.value)
		}
	}
}

func valueOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func uintOrEmpty(v *uint32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*v), 10)
}

// -----------------------
// --- Main
// -----------------------
func main() {
	var cfg configs
	if err := stepconf.Parse(&cfg); err != nil {
		failf("Process config: failed to parse input: %s", err)
	}

	stepconf.Print(cfg)
	log.SetEnableDebugLog(cfg.VerboseLog)
	fmt.Println()

	if err := validate(cfg); err != nil {
		failf("Process config: failed to validate input: %s", err)
	}

	reportDir := cfg.ReportPath
	if reportDir == "" {
		tmpDir, err := pathutil.NormalizedOSTempDirPath("apk-info")
		if err != nil {
			failf("Run: failed to create tmp dir: %s", err)
		}
		reportDir = tmpDir
	}

	apkPaths := parseAppList(cfg.APKPath)
	reports := make([]apkReport, 0, len(apkPaths))

	log.Infof("Reading %d APKs", len(apkPaths))
	for i, apkPath := range apkPaths {
		log.Donef("%d/%d %s", i+1, len(apkPaths), apkPath)

		result, err := apkinfo.NewPackage(apkPath).LoadManifest()
		if err != nil {
			failf("Run: failed to read %s: %s", apkPath, err)
		}

		report := newAPKReport(apkPath, result)
		printReport(report)
		reports = append(reports, report)
		fmt.Println()
	}

	reportPth, err := writeReport(reportDir, reports)
	if err != nil {
		failf("Run: %s", err)
	}
	log.Printf("report: %s", reportPth)
	fmt.Println()

	exportEnvs(reports[len(reports)-1], reportPth)
}
