package filter

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Format identifies how a blocklist source is parsed.
type Format int

const (
	// FormatHosts is the /etc/hosts style "ip domain" format.
	FormatHosts Format = iota
	// FormatAdblock is the Adblock-Plus filter rule format.
	FormatAdblock
	// FormatDomains is one bare domain per line.
	FormatDomains
)

// ParseFormat converts a config format string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "hosts":
		return FormatHosts, nil
	case "adblock", "adblock_plus":
		return FormatAdblock, nil
	case "domains", "plain":
		return FormatDomains, nil
	}

	return 0, fmt.Errorf("unknown blocklist format: %q", s)
}

func (f Format) String() string {
	switch f {
	case FormatHosts:
		return "hosts"
	case FormatAdblock:
		return "adblock"
	case FormatDomains:
		return "domains"
	}

	return "unknown"
}

// sinkhole addresses a hosts file maps blocked domains to
var sinkholeIPs = map[string]bool{
	"0.0.0.0":   true,
	"127.0.0.1": true,
	"::":        true,
	"::1":       true,
}

var (
	domainChars = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)
	tldLetters  = regexp.MustCompile(`^[a-zA-Z]{2,}$`)
	adblockRule = regexp.MustCompile(`\|\|([^/^]+)`)
	looseDomain = regexp.MustCompile(`([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)
)

// Normalize lowercases a domain and strips surrounding whitespace and dots.
func Normalize(domain string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// IsValidDomain reports whether domain is a plausible public domain name.
// Bare hostnames, empty labels and non-alphabetic TLDs are rejected.
func IsValidDomain(domain string) bool {
	if domain == "" || domain == "localhost" {
		return false
	}

	if !domainChars.MatchString(domain) {
		return false
	}

	if strings.Contains(domain, "..") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}

	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return false
	}

	return tldLetters.MatchString(parts[len(parts)-1])
}

// Parse extracts valid blocked domains from r according to format.
func Parse(format Format, r io.Reader) ([]string, error) {
	switch format {
	case FormatHosts:
		return parseHosts(r)
	case FormatAdblock:
		return parseAdblock(r)
	case FormatDomains:
		return parseDomains(r)
	}

	return nil, fmt.Errorf("unknown blocklist format: %d", format)
}

// parseHosts accepts only entries mapped to a sinkhole address.
func parseHosts(r io.Reader) ([]string, error) {
	var domains []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		if !sinkholeIPs[fields[0]] {
			continue
		}

		domain := Normalize(fields[1])
		if IsValidDomain(domain) {
			domains = append(domains, domain)
		}
	}

	return domains, scanner.Err()
}

// parseAdblock recognizes ||domain^ blocking rules. Exception rules (@@...)
// are skipped, full rule negation is not implemented.
func parseAdblock(r io.Reader) ([]string, error) {
	var domains []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") {
			continue
		}

		if strings.HasPrefix(line, "@@") {
			continue
		}

		var domain string
		if strings.Contains(line, "||") {
			if m := adblockRule.FindStringSubmatch(line); m != nil {
				domain = Normalize(m[1])
			}
		} else if m := looseDomain.FindStringSubmatch(line); m != nil {
			domain = Normalize(m[1])
		}

		if domain != "" && IsValidDomain(domain) {
			domains = append(domains, domain)
		}
	}

	return domains, scanner.Err()
}

// parseDomains takes one domain per line, #-prefixed lines are comments.
func parseDomains(r io.Reader) ([]string, error) {
	var domains []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		domain := Normalize(line)
		if IsValidDomain(domain) {
			domains = append(domains, domain)
		}
	}

	return domains, scanner.Err()
}
