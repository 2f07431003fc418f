// Package manifest projects a decoded AndroidManifest.xml onto the handful
// of identity fields callers care about.
package manifest

import (
	"strconv"

	"github.com/bitrise-steplib/steps-apk-info/binxml"
)

// Fields holds the projected manifest attributes. A nil field was either
// absent or stored with a type the projection does not accept.
type Fields struct {
	Package     *string `yaml:"package,omitempty"`
	VersionCode *uint32 `yaml:"version_code,omitempty"`
	VersionName *string `yaml:"version_name,omitempty"`

	CompileSdkVersion         *uint32 `yaml:"compile_sdk_version,omitempty"`
	CompileSdkVersionCodename *string `yaml:"compile_sdk_version_codename,omitempty"`
	PlatformBuildVersionCode  *uint32 `yaml:"platform_build_version_code,omitempty"`
	PlatformBuildVersionName  *string `yaml:"platform_build_version_name,omitempty"`

	MinSdkVersion    *uint32 `yaml:"min_sdk_version,omitempty"`
	TargetSdkVersion *uint32 `yaml:"target_sdk_version,omitempty"`
	MaxSdkVersion    *uint32 `yaml:"max_sdk_version,omitempty"`

	Icon  *string `yaml:"icon,omitempty"`
	Label *string `yaml:"label,omitempty"`

	Debuggable        *bool `yaml:"debuggable,omitempty"`
	ExtractNativeLibs *bool `yaml:"extract_native_libs,omitempty"`
}

// Project reads the manifest fields out of doc. It never fails: missing
// elements and mistyped attributes only leave the matching field nil.
func Project(doc *binxml.Document) Fields {
	var f Fields

	root := findRoot(doc)
	if root == nil {
		return f
	}

	f.Package = stringAttr(root, "package")
	f.VersionCode = intAttr(root, "versionCode")
	f.VersionName = stringAttr(root, "versionName")
	f.CompileSdkVersion = intAttr(root, "compileSdkVersion")
	f.CompileSdkVersionCodename = stringAttr(root, "compileSdkVersionCodename")
	f.PlatformBuildVersionCode = intAttr(root, "platformBuildVersionCode")
	f.PlatformBuildVersionName = stringAttr(root, "platformBuildVersionName")

	if usesSdk := root.Child("uses-sdk"); usesSdk != nil {
		f.MinSdkVersion = intAttr(usesSdk, "minSdkVersion")
		f.TargetSdkVersion = intAttr(usesSdk, "targetSdkVersion")
		f.MaxSdkVersion = intAttr(usesSdk, "maxSdkVersion")
	}

	if app := root.Child("application"); app != nil {
		f.Icon = resourceAttr(app, "icon")
		f.Label = resourceAttr(app, "label")
		f.Debuggable = boolAttr(app, "debuggable")
		f.ExtractNativeLibs = boolAttr(app, "extractNativeLibs")
	}

	return f
}

// findRoot returns the first top level <manifest>, falling back to the
// first top level element.
func findRoot(doc *binxml.Document) *binxml.Element {
	if doc == nil {
		return nil
	}
	for _, e := range doc.Elements {
		if e.Name == "manifest" {
			return e
		}
	}
	return doc.Root()
}

func intAttr(e *binxml.Element, name string) *uint32 {
	a, ok := e.Attr(name)
	if !ok {
		return nil
	}
	v, ok := a.Value.Int()
	if !ok {
		return nil
	}
	return &v
}

func boolAttr(e *binxml.Element, name string) *bool {
	a, ok := e.Attr(name)
	if !ok {
		return nil
	}
	v, ok := a.Value.Bool()
	if !ok {
		return nil
	}
	return &v
}

// stringAttr also accepts integer values: aapt stores platformBuildVersionName
// as an int when it looks like one.
func stringAttr(e *binxml.Element, name string) *string {
	a, ok := e.Attr(name)
	if !ok {
		return nil
	}
	if s, ok := a.Value.Str(); ok {
		return &s
	}
	if v, ok := a.Value.Int(); ok {
		s := strconv.FormatInt(int64(int32(v)), 10)
		return &s
	}
	return nil
}

// resourceAttr returns literal strings as is and unresolved resource
// references as "@" followed by the 8 digit hex id.
func resourceAttr(e *binxml.Element, name string) *string {
	a, ok := e.Attr(name)
	if !ok {
		return nil
	}
	if s, ok := a.Value.Str(); ok {
		return &s
	}
	if _, ok := a.Value.Reference(); ok {
		s := a.Value.Text()
		return &s
	}
	return nil
}

// String renders v for logs, "-" standing for nil.
func String(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}

// Uint renders v for logs, "-" standing for nil.
func Uint(v *uint32) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatUint(uint64(*v), 10)
}
