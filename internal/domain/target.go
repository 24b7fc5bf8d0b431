package domain

import "strings"

// RepoURL canonicalises a repository reference to an https URL. Bare
// "owner/repo" references are taken to be on github.com.
func RepoURL(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimRight(ref, "/")
	ref = strings.TrimSuffix(ref, ".git")

	switch {
	case strings.Contains(ref, "://"):
		return ref
	case strings.HasPrefix(ref, "git@"):
		// git@github.com:owner/repo
		return "https://" + strings.Replace(strings.TrimPrefix(ref, "git@"), ":", "/", 1)
	}
	host, _, _ := strings.Cut(ref, "/")
	if strings.Contains(host, ".") {
		return "https://" + ref
	}
	return "https://github.com/" + ref
}

// TargetKey derives the stable storage key of a repository reference. All
// spellings of the same repository map to the same key.
func TargetKey(ref string) string {
	u := RepoURL(ref)
	if _, rest, ok := strings.Cut(u, "://"); ok {
		u = rest
	}
	u = strings.NewReplacer("/", "_", ":", "_").Replace(u)
	return strings.ToLower(u)
}
