package nativelib

// PackageInfoFileName is the archive entry holding the serialized Record.
const PackageInfoFileName = "package_info.json"

// Record is the package-info embedded in each archive. It repeats what the
// manifest says about the binary so an archive can be verified on its own.
type Record struct {
	// Version is the full source version, dedup suffix included.
	Version string `json:"version"`
	// Digest is the lowercase hex digest of the binary entry.
	Digest string `json:"md5"`
	// Size is the byte length of the binary entry.
	Size int64 `json:"size"`
	// FileName is the name of the binary entry.
	FileName string `json:"fileName"`
	// PackageName is the logical library name.
	PackageName string `json:"packageName"`
	// CreateTime is the archive creation time in Unix milliseconds.
	CreateTime int64 `json:"createTime"`
	// Architecture is the ABI of the binary.
	Architecture string `json:"abi,omitempty"`
	// Algorithm names the digest function when it is not md5.
	Algorithm string `json:"algorithm,omitempty"`
}
