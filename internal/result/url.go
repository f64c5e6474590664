package result

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// DownloadURL builds {base}/download/{name} with name escaped as one segment.
func DownloadURL(baseURL string, name string) (string, error) {
	if name == "" {
		return "", errors.New("empty artifact name")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse backend base URL")
	}
	if base.Scheme == "" || base.Host == "" {
		return "", errors.Errorf("backend base URL %q is not absolute", baseURL)
	}
	downloadURL := url.URL{
		Scheme:  base.Scheme,
		Host:    base.Host,
		Path:    strings.TrimRight(base.Path, "/") + "/download/" + name,
		RawPath: strings.TrimRight(base.EscapedPath(), "/") + "/download/" + url.PathEscape(name),
	}
	return downloadURL.String(), nil
}
