package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
)

func validateOutput(output string) error {
	if len(output) > 0 && !funk.Contains(legalOutputTypes, output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}

// printStructured writes v as json or yaml. ok is false for the table format.
func printStructured(w io.Writer, output string, v any) (bool, error) {
	switch output {
	case jsonFormat:
		marshalled, err := json.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("marshalling output: %w", err)
		}
		fmt.Fprintf(w, "%s\n", string(marshalled))
		return true, nil
	case yamlFormat:
		marshalled, err := yaml.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("marshalling output: %w", err)
		}
		fmt.Fprintf(w, "%s", string(marshalled))
		return true, nil
	default:
		return false, nil
	}
}
