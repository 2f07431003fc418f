package binxml

// Android reads manifest attributes by resource id, not by name, so
// obfuscators are free to blank or scramble the names in the string pool.
// These are the public android attribute ids of the names we care about.
//
// frameworks/base/core/res/res/values/public.xml
var androidAttrNames = map[uint32]string{
	0x01010001: "label",
	0x01010002: "icon",
	0x01010003: "name",
	0x0101000f: "debuggable",
	0x0101020c: "minSdkVersion",
	0x0101021b: "versionCode",
	0x0101021c: "versionName",
	0x01010270: "targetSdkVersion",
	0x01010271: "maxSdkVersion",
	0x010102b7: "installLocation",
	0x010104ea: "extractNativeLibs",
	0x0101052c: "roundIcon",
	0x01010572: "compileSdkVersion",
	0x01010573: "compileSdkVersionCodename",
}

// AndroidAttrName returns the attribute name for a well-known android
// attribute resource id.
func AndroidAttrName(id uint32) (string, bool) {
	name, ok := androidAttrNames[id]
	return name, ok
}
