package sysdns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateInterfaceName(t *testing.T) {
	valid := []string{"eth0", "Wi-Fi", "en0", "{A1B2C3D4-1234-5678-ABCD-0123456789AB}"}
	for _, name := range valid {
		assert.NoErrorf(t, validateInterfaceName(name), "name %q should be valid", name)
	}

	invalid := []string{"", "eth0; rm -rf /", "eth0 && echo hi", "$(whoami)", "eth0\n"}
	for _, name := range invalid {
		assert.Errorf(t, validateInterfaceName(name), "name %q should be rejected", name)
	}
}
