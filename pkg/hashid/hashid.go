// Package hashid derives stable identifiers from ordered identity fields.
package hashid

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hasher handles identity hashing.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// Default hashes with sha256.
var Default = NewHasher("sha256")

// ComputeHash hashes the named fields of values in the order given. Missing
// fields hash as empty strings; string values are lower-cased and trimmed so
// cosmetic differences between tries do not change the id.
func (h *Hasher) ComputeHash(values map[string]interface{}, fields []string) (string, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("no fields specified for hashing")
	}

	var builder strings.Builder
	for _, field := range fields {
		val, exists := values[field]
		if !exists || val == nil {
			val = ""
		}
		if s, ok := val.(string); ok {
			val = strings.ToLower(strings.TrimSpace(s))
		}
		builder.WriteString(fmt.Sprintf("%v|", val))
	}

	input := builder.String()

	switch h.algorithm {
	case "md5":
		sum := md5.Sum([]byte(input))
		return hex.EncodeToString(sum[:]), nil
	default:
		sum := sha256.Sum256([]byte(input))
		return hex.EncodeToString(sum[:]), nil
	}
}

// SimulationFields are the identity fields shared by every try of a run.
var SimulationFields = []string{"name", "compute_centre", "compute_machine", "compute_login", "experiment", "model", "space"}

// Simulation returns the hashid of a simulation given its identity values.
func Simulation(values map[string]interface{}) string {
	id, _ := Default.ComputeHash(values, SimulationFields)
	return id
}
