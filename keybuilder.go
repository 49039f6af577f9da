package upload

import "path"

// objectKeyFor joins a path prefix and a logical artifact path into the
// object key presented to the broker and S3, generalizing
// PrefixKeyBuilder.BuildKey to the simpler prefix model this engine uses:
// no per-tenant key builder abstraction, just prefix + normalized path.
func objectKeyFor(pathPrefix, artifactPath string) string {
	return pathPrefix + normalizeArtifactPath(artifactPath)
}

// normalizeArtifactPath strips a leading slash or "./" so pathPrefix joins
// cleanly, and collapses any "." / ".." segments via path.Clean.
func normalizeArtifactPath(p string) string {
	for len(p) > 0 && (p[0] == '/' || (len(p) >= 2 && p[0] == '.' && p[1] == '/')) {
		switch {
		case p[0] == '/':
			p = p[1:]
		default:
			p = p[2:]
		}
	}
	if p == "" {
		return p
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	for len(cleaned) > 0 && cleaned[0] == '/' {
		cleaned = cleaned[1:]
	}
	return cleaned
}
