package recipients

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidAddress(t *testing.T) {
	valid := []string{
		"a@b.com",
		"  a@b.com  ",
		"first.last@sub.domain.io",
		"user+tag@example.co.uk",
	}
	for _, s := range valid {
		assert.True(t, ValidAddress(s), "expected %q to be valid", s)
	}

	invalid := []string{
		"",
		"not-an-email",
		"missing@tld",
		"two@@at.com",
		"spaces in@side.com",
		"@no-local.com",
	}
	for _, s := range invalid {
		assert.False(t, ValidAddress(s), "expected %q to be invalid", s)
	}
}

func TestExtractPlainList(t *testing.T) {
	got := Extract("a@b.com\nc@d.com\n\ne@f.com\n")
	assert.Equal(t, []string{"a@b.com", "c@d.com", "e@f.com"}, got)
}

func TestExtractSkipsHeaderRow(t *testing.T) {
	got := Extract("Email,Name\na@b.com,Alice\nc@d.com,Carol\n")
	assert.Equal(t, []string{"a@b.com", "c@d.com"}, got)
}

func TestExtractCommaSeparatedLine(t *testing.T) {
	got := Extract("a@b.com, c@d.com, bogus")
	assert.Equal(t, []string{"a@b.com", "c@d.com"}, got)
}

func TestExtractLowercasesAndDeduplicates(t *testing.T) {
	got := Extract("A@B.com\na@b.com\nC@d.com\n")
	assert.Equal(t, []string{"a@b.com", "c@d.com"}, got)
}

func TestExtractEmptyInput(t *testing.T) {
	assert.Empty(t, Extract(""))
	assert.Empty(t, Extract("\n  \n"))
}

func TestExtractFirstLineAddressIsNotAHeader(t *testing.T) {
	// An address containing "address" in its domain must not be
	// mistaken for a header row.
	got := Extract("ops@address.com\nc@d.com\n")
	assert.Equal(t, []string{"ops@address.com", "c@d.com"}, got)
}
