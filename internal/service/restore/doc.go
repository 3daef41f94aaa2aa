// Package restore re-hydrates stripped native libraries from their manifests.
//
// For every manifest entry whose binary is missing or differs in the build
// output, the archive is downloaded, verified against its embedded record and
// installed with a checksum-verified replace.
package restore
