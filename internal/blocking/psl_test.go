package blocking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPSL_BuiltinFallback(t *testing.T) {
	psl := NewPSL()

	assert.Equal(t, "example.com", psl.Registrable("example.com"))
	assert.Equal(t, "example.com", psl.Registrable("www.example.com"))
	assert.Equal(t, "example.co.uk", psl.Registrable("example.co.uk"))
	assert.Equal(t, "example.co.uk", psl.Registrable("www.example.co.uk"))
	assert.Equal(t, "", psl.Registrable("com"))
	assert.Equal(t, "", psl.Registrable("co.uk"))
}

func TestPSL_LoadFromStringWildcardAndException(t *testing.T) {
	psl := &PSL{root: newPSLNode()}
	n := psl.LoadFromString(`
// comment
jp
*.jp
!metro.tokyo.jp
`)
	assert.Equal(t, 3, n)

	assert.Equal(t, "example.random.jp", psl.Registrable("example.random.jp"), "wildcard *.jp makes random.jp itself a suffix")
	assert.Equal(t, "metro.tokyo.jp", psl.Registrable("test.metro.tokyo.jp"), "exception rule carves metro.tokyo.jp back out of the suffix")
	assert.Equal(t, "metro.tokyo.jp", psl.Registrable("metro.tokyo.jp"))
}
