package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// MXChecker reports whether a mail domain can receive email.
type MXChecker interface {
	HasMX(ctx context.Context, domain string) (bool, error)
}

// DefaultResolvers are queried in order until one answers.
var DefaultResolvers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// DNSChecker looks up MX records directly against public resolvers.
type DNSChecker struct {
	servers []string
	client  *dns.Client
}

// NewDNSChecker creates a checker. With no servers it uses DefaultResolvers.
func NewDNSChecker(timeout time.Duration, servers ...string) *DNSChecker {
	if len(servers) == 0 {
		servers = DefaultResolvers
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DNSChecker{
		servers: servers,
		client:  &dns.Client{Timeout: timeout},
	}
}

// HasMX queries each resolver until one responds. An NXDOMAIN or an answer
// without MX records is a definite false; the error is set only when no
// resolver could be reached.
func (c *DNSChecker) HasMX(ctx context.Context, domain string) (bool, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return false, nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	msg.RecursionDesired = true

	var errs []error
	for _, server := range c.servers {
		resp, _, err := c.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			return false, nil
		}
		for _, ans := range resp.Answer {
			if _, ok := ans.(*dns.MX); ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("mx lookup for %s failed: %w", domain, errors.Join(errs...))
}

// domainOf returns the part of an address after "@".
func domainOf(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		return email[i+1:]
	}
	return ""
}
