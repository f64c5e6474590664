package result

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultFilename is used when the backend gives no usable name.
const DefaultFilename = "processed.pdf"

// Matches filename="..." or filename=... in headers mime cannot parse.
var dispositionFilenameRegexp = regexp.MustCompile(`(?i)filename\*?\s*=\s*(?:UTF-8'')?"?([^";]+)"?`)

// FilenameFromDisposition extracts the file name from a Content-Disposition
// header. It never fails: malformed or missing headers yield DefaultFilename.
func FilenameFromDisposition(header string) string {
	if header == "" {
		return DefaultFilename
	}
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := sanitize(params["filename"]); name != "" {
			return name
		}
	}
	if m := dispositionFilenameRegexp.FindStringSubmatch(header); len(m) == 2 {
		raw := strings.TrimSpace(m[1])
		if unescaped, err := url.PathUnescape(raw); err == nil {
			raw = unescaped
		}
		if name := sanitize(raw); name != "" {
			return name
		}
	}
	return DefaultFilename
}

// sanitize keeps the last path element so a name can never escape the output
// directory.
func sanitize(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}
