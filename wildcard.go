package permissions

// matchWildcard reports whether subject matches pattern, where '*' in the
// pattern matches any substring (crossing '.' boundaries) and '?' matches
// exactly one character. The granted permission is the pattern and the
// requested permission is the subject, so a granted "posts.*" matches a
// request for "posts.create".
func matchWildcard(pattern, subject string) bool {
	var pi, si int
	star := -1
	mark := 0
	for si < len(subject) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == subject[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
