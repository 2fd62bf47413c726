package filter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_IsValidDomain(t *testing.T) {
	valid := []string{"example.com", "ads.example.com", "a-b.example.co.uk", "0.example.org"}
	for _, domain := range valid {
		assert.True(t, IsValidDomain(domain), domain)
	}

	invalid := []string{"", "localhost", "a..b.com", ".example.com", "example.com.", "example", "example.c", "example.123", "exa mple.com"}
	for _, domain := range invalid {
		assert.False(t, IsValidDomain(domain), domain)
	}
}

func Test_Normalize(t *testing.T) {
	assert.Equal(t, "example.com", Normalize(" Example.COM. "))
	assert.Equal(t, "ads.example.com", Normalize(".ads.example.com"))
	assert.Equal(t, "", Normalize("."))
}

func Test_ParseFormat(t *testing.T) {
	for s, want := range map[string]Format{"hosts": FormatHosts, "adblock": FormatAdblock, "adblock_plus": FormatAdblock, "domains": FormatDomains} {
		got, err := ParseFormat(s)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotEqual(t, "unknown", got.String())
	}

	_, err := ParseFormat("csv")
	assert.Error(t, err)
}

func Test_ParseHosts(t *testing.T) {
	input := `# comment
0.0.0.0 doubleclick.net
127.0.0.1 tracker.example.com
:: ipv6sink.example.org
192.168.1.1 router.example.com
0.0.0.0 localhost
0.0.0.0
`
	domains, err := Parse(FormatHosts, strings.NewReader(input))
	assert.NoError(t, err)
	assert.Equal(t, []string{"doubleclick.net", "tracker.example.com", "ipv6sink.example.org"}, domains)
}

func Test_ParseAdblock(t *testing.T) {
	input := `! comment
[Adblock Plus 2.0]
||ads.example.com^
||tracker.example.org^$third-party
@@||allowed.example.com^
banner.example.net/ad.js
||bad domain^
`
	domains, err := Parse(FormatAdblock, strings.NewReader(input))
	assert.NoError(t, err)
	assert.Contains(t, domains, "ads.example.com")
	assert.Contains(t, domains, "tracker.example.org")
	assert.Contains(t, domains, "banner.example.net")
	assert.NotContains(t, domains, "allowed.example.com")
}

func Test_ParseDomains(t *testing.T) {
	input := `# comment
doubleclick.net

invalid..domain.com
ads.example.com
`
	domains, err := Parse(FormatDomains, strings.NewReader(input))
	assert.NoError(t, err)
	assert.Equal(t, []string{"doubleclick.net", "ads.example.com"}, domains)
}
